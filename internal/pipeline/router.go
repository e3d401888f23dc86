package pipeline

import (
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/kiranshivaraju/codereview/internal/allocation"
	"github.com/kiranshivaraju/codereview/internal/config"
	"github.com/kiranshivaraju/codereview/internal/templates"
	"github.com/kiranshivaraju/codereview/pkg/models"
)

// Route is where an issue's suggestion is generated.
type Route int

const (
	RouteCheap Route = iota
	RouteTemplate
	RoutePremium
)

func (r Route) String() string {
	switch r {
	case RouteTemplate:
		return "template"
	case RoutePremium:
		return "premium"
	default:
		return "cheap"
	}
}

// Router assigns suggestion routes. The assignment depends only on the issue's
// identity fields, so the same issue always takes the same route.
type Router struct {
	cfg config.RoutingConfig
}

func NewRouter(cfg config.RoutingConfig) *Router {
	return &Router{cfg: cfg}
}

// Bucket maps an issue to [0, 100) with xxhash64 over "id|type|file|line".
func Bucket(issue models.RawIssue) uint64 {
	key := issue.ID + "|" + issue.Type + "|" + issue.File + "|" + strconv.Itoa(issue.Line)
	return xxhash.Sum64String(key) % 100
}

// Route returns the route for issue. CRITICAL security issues go to the premium
// model in 1% of cases and never to templates; everything else splits 90/9/1
// between the cheap model, templates and the cheap model again.
func (r *Router) Route(issue models.RawIssue) Route {
	h := Bucket(issue)
	if models.ParseSeverity(string(issue.Severity)) == models.SeverityCritical &&
		allocation.Categorize(issue) == models.CategorySecurity {
		if h < 1 {
			return RoutePremium
		}
		return RouteCheap
	}
	switch {
	case h < 90:
		return RouteCheap
	case h < 99:
		return RouteTemplate
	default:
		return RouteCheap
	}
}

// DetermineModel returns the model name for issue's route.
func (r *Router) DetermineModel(issue models.RawIssue) string {
	switch r.Route(issue) {
	case RoutePremium:
		return r.cfg.PremiumModel
	case RouteTemplate:
		return templates.Model
	default:
		return r.cfg.CheapModel
	}
}
