package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/basalt/basalt/internal/auth"
	"github.com/basalt/basalt/internal/middleware"
	"github.com/basalt/basalt/internal/model"
	"github.com/basalt/basalt/internal/service"
	"github.com/basalt/basalt/internal/tier"
)

const recentAssetsLimit = 10

// Accounts is the account service used by the web pages.
type Accounts interface {
	Signup(ctx context.Context, in service.SignupInput) (*model.User, string, error)
	Login(ctx context.Context, email, password string) (*model.User, string, error)
	VerifyEmail(ctx context.Context, token string) (*model.User, error)
	Usage(ctx context.Context, user *model.User) (model.UsageResponse, error)
	Catalog() *tier.Catalog
	SessionTTL() time.Duration
}

// KeyLister lists a user's API keys.
type KeyLister interface {
	List(ctx context.Context, userID int64) ([]model.APIKeyResponse, error)
}

// AssetLister reads a user's notarizations.
type AssetLister interface {
	List(ctx context.Context, userID int64, limit int) ([]*model.Notarization, error)
	Count(ctx context.Context, userID int64) (int, error)
}

// WebHandler serves the server-rendered account pages.
type WebHandler struct {
	logger       *slog.Logger
	accounts     Accounts
	keys         KeyLister
	assets       AssetLister
	pages        pages
	secureCookie bool
}

// NewWebHandler creates a new WebHandler. secureCookie marks the session
// cookie Secure and should be set whenever the site is served over HTTPS.
func NewWebHandler(logger *slog.Logger, accounts Accounts, keys KeyLister, assets AssetLister, secureCookie bool) (*WebHandler, error) {
	p, err := parsePages("login", "signup", "dashboard", "assets", "pricing", "verify_email")
	if err != nil {
		return nil, err
	}
	return &WebHandler{
		logger:       logger.With("component", "web"),
		accounts:     accounts,
		keys:         keys,
		assets:       assets,
		pages:        p,
		secureCookie: secureCookie,
	}, nil
}

type pageData struct {
	Title    string
	User     *model.User
	Error    string
	Notice   string
	Form     map[string]string
	Plan     tier.Tier
	Usage    model.UsageResponse
	Tiers    []tier.Tier
	Keys     []model.APIKeyResponse
	Recent   []*model.Notarization
	Assets   []*model.Notarization
	Total    int
	Verified bool
}

func (h *WebHandler) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	if data.User == nil {
		data.User = auth.UserFromContext(r.Context())
	}
	if err := h.pages.render(w, status, name, data); err != nil {
		h.logger.Error("failed to render page",
			slog.String("page", name),
			slog.String("error", err.Error()),
			slog.String("request_id", middleware.GetRequestID(r.Context())),
		)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// Home sends signed-in users to the dashboard and everyone else to pricing.
// GET /
func (h *WebHandler) Home(w http.ResponseWriter, r *http.Request) {
	if auth.UserFromContext(r.Context()) != nil {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/pricing", http.StatusSeeOther)
}

// LoginPage renders the login form.
// GET /login
func (h *WebHandler) LoginPage(w http.ResponseWriter, r *http.Request) {
	if auth.UserFromContext(r.Context()) != nil {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, "login", pageData{Title: "Log in"})
}

// Login checks credentials and starts a session.
// POST /login
func (h *WebHandler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render(w, r, http.StatusBadRequest, "login", pageData{Title: "Log in", Error: "Invalid form submission"})
		return
	}
	email := r.PostForm.Get("email")
	form := map[string]string{"email": email}

	_, token, err := h.accounts.Login(r.Context(), email, r.PostForm.Get("password"))
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		h.render(w, r, http.StatusUnauthorized, "login", pageData{Title: "Log in", Form: form, Error: "Invalid email or password"})
		return
	case errors.Is(err, service.ErrAccountDisabled):
		h.render(w, r, http.StatusForbidden, "login", pageData{Title: "Log in", Form: form, Error: "This account has been disabled"})
		return
	case err != nil:
		h.logger.Error("login failed", slog.String("error", err.Error()))
		h.render(w, r, http.StatusInternalServerError, "login", pageData{Title: "Log in", Form: form, Error: "Something went wrong, please try again"})
		return
	}

	h.setSessionCookie(w, token)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// SignupPage renders the signup form.
// GET /signup
func (h *WebHandler) SignupPage(w http.ResponseWriter, r *http.Request) {
	if auth.UserFromContext(r.Context()) != nil {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, "signup", pageData{Title: "Sign up"})
}

// Signup creates an account and signs the user in.
// POST /signup
func (h *WebHandler) Signup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render(w, r, http.StatusBadRequest, "signup", pageData{Title: "Sign up", Error: "Invalid form submission"})
		return
	}
	in := service.SignupInput{
		Name:     r.PostForm.Get("name"),
		Email:    r.PostForm.Get("email"),
		Password: r.PostForm.Get("password"),
		Company:  r.PostForm.Get("company"),
	}
	data := pageData{
		Title: "Sign up",
		Form:  map[string]string{"name": in.Name, "email": in.Email, "company": in.Company},
	}

	_, token, err := h.accounts.Signup(r.Context(), in)
	switch {
	case errors.Is(err, service.ErrEmailExists):
		data.Error = "An account with this email already exists"
		h.render(w, r, http.StatusConflict, "signup", data)
		return
	case errors.Is(err, service.ErrPasswordTooShort):
		data.Error = "Password must be at least 8 characters"
		h.render(w, r, http.StatusBadRequest, "signup", data)
		return
	case errors.Is(err, service.ErrInvalidInput):
		data.Error = "Please enter your name and a valid email address"
		h.render(w, r, http.StatusBadRequest, "signup", data)
		return
	case err != nil:
		h.logger.Error("signup failed", slog.String("error", err.Error()))
		data.Error = "Something went wrong, please try again"
		h.render(w, r, http.StatusInternalServerError, "signup", data)
		return
	}

	h.setSessionCookie(w, token)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// Logout clears the session cookie.
// GET /logout
func (h *WebHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Dashboard shows quota, active keys and recent assets. Requires a session.
// GET /dashboard
func (h *WebHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := auth.UserFromContext(ctx)

	usage, err := h.accounts.Usage(ctx, user)
	if err != nil {
		h.serverError(w, r, "load usage", err)
		return
	}
	keys, err := h.keys.List(ctx, user.ID)
	if err != nil {
		h.serverError(w, r, "list keys", err)
		return
	}
	active := keys[:0]
	for _, k := range keys {
		if k.IsActive {
			active = append(active, k)
		}
	}
	recent, err := h.assets.List(ctx, user.ID, recentAssetsLimit)
	if err != nil {
		h.serverError(w, r, "list assets", err)
		return
	}
	total, err := h.assets.Count(ctx, user.ID)
	if err != nil {
		h.serverError(w, r, "count assets", err)
		return
	}

	h.render(w, r, http.StatusOK, "dashboard", pageData{
		Title:  "Dashboard",
		User:   user,
		Plan:   h.accounts.Catalog().Lookup(user.Tier),
		Usage:  usage,
		Keys:   active,
		Recent: recent,
		Total:  total,
	})
}

// Assets lists the user's notarizations. Requires a session.
// GET /dashboard/assets
func (h *WebHandler) Assets(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	assets, err := h.assets.List(r.Context(), user.ID, 100)
	if err != nil {
		h.serverError(w, r, "list assets", err)
		return
	}
	h.render(w, r, http.StatusOK, "assets", pageData{Title: "Assets", User: user, Assets: assets})
}

// Pricing lists the plans.
// GET /pricing
func (h *WebHandler) Pricing(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, "pricing", pageData{Title: "Pricing", Tiers: h.accounts.Catalog().All()})
}

// VerifyEmail confirms the address in a signup email link.
// GET /verify-email?token=...
func (h *WebHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	_, err := h.accounts.VerifyEmail(r.Context(), r.URL.Query().Get("token"))
	if err != nil && !errors.Is(err, service.ErrInvalidToken) {
		h.serverError(w, r, "verify email", err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusBadRequest
	}
	h.render(w, r, status, "verify_email", pageData{Title: "Email confirmation", Verified: err == nil})
}

func (h *WebHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.accounts.SessionTTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *WebHandler) serverError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error("page failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
		slog.String("request_id", middleware.GetRequestID(r.Context())),
	)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
