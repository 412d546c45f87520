// Package authz decides which console roles may perform which actions.
// Rules live in an embedded casbin RBAC model and policy; admins inherit
// every user permission.
package authz

import (
	_ "embed"
	"fmt"
	"net/http"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
	"github.com/goccy/go-json"

	"github.com/MADA-gnuBD/bikeops/internal/logging"
	"github.com/MADA-gnuBD/bikeops/internal/session"
	"github.com/MADA-gnuBD/bikeops/models"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Objects and actions named in the policy.
const (
	ObjStations    = "stations"
	ObjViews       = "views"
	ObjWorkQueue   = "workqueue"
	ObjWorkHistory = "work_history"
	ObjPosts       = "posts"

	ActWrite        = "write"
	ActRefresh      = "refresh"
	ActForceRefresh = "force_refresh"
	ActReadOwn      = "read_own"
	ActReadAll      = "read_all"
	ActDeleteOwn    = "delete_own"
	ActDeleteAny    = "delete_any"
)

// Enforcer answers role/object/action questions. A nil Enforcer denies
// everything.
type Enforcer struct {
	e *casbin.SyncedEnforcer
}

// New loads the embedded model and policy.
func New() (*Enforcer, error) {
	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("load casbin model: %w", err)
	}
	e, err := casbin.NewSyncedEnforcer(m, stringadapter.NewAdapter(embeddedPolicy))
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	return &Enforcer{e: e}, nil
}

// Allowed reports whether role may perform act on obj. Unknown roles are
// treated as plain users.
func (en *Enforcer) Allowed(role, obj, act string) bool {
	if en == nil || en.e == nil {
		return false
	}
	if role != models.RoleAdmin {
		role = models.RoleUser
	}
	ok, err := en.e.Enforce(role, obj, act)
	if err != nil {
		logging.Error().Err(err).Str("role", role).Str("obj", obj).Str("act", act).Msg("authorization check failed")
		return false
	}
	return ok
}

// Can is Allowed for the session's role. A nil session is denied.
func (en *Enforcer) Can(s *session.Session, obj, act string) bool {
	if s == nil {
		return false
	}
	return en.Allowed(s.User.Role, obj, act)
}

// Require returns middleware that answers 403 unless the request's session
// may perform act on obj. Requests without a stored session get 401; a raw
// bearer token is only good for calls the backend checks itself.
func (en *Enforcer) Require(obj, act string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := session.FromContext(r.Context())
			if s == nil || s.ID == "" {
				deny(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if !en.Can(s, obj, act) {
				logging.Ctx(r.Context()).Warn().Str("user", s.User.Email).Str("obj", obj).Str("act", act).Msg("forbidden")
				deny(w, http.StatusForbidden, "you do not have permission to do this")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
