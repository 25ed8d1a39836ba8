package pipeline

import (
	"net/http"

	"github.com/jamesprial/storegate/internal/routing"
)

// RouterStage resolves the route table entry for the request path.
type RouterStage struct {
	table *routing.Table
}

// NewRouterStage creates the routing stage over table.
func NewRouterStage(table *routing.Table) *RouterStage {
	return &RouterStage{table: table}
}

func (s *RouterStage) Name() string { return "router" }

// Process stores the first matching entry in rc, or fails with NotFound.
func (s *RouterStage) Process(_ http.ResponseWriter, rc *RequestContext) Result {
	entry, err := s.table.Route(rc.Path)
	if err != nil {
		return Fail(Wrap(KindNotFound, "Not Found", err))
	}
	rc.Route = entry
	return Continue()
}
