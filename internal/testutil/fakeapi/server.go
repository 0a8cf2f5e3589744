// Package fakeapi runs an in-process stand-in for the portal API in tests.
// It issues real HS256 tokens, checks bcrypt passwords, blacklists refresh
// tokens on logout and records every request it receives.
package fakeapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nkiryanov/thesisportal/internal/models"
)

const (
	MsgInvalidCredentials = "Identifiants incorrects"
	MsgAccountDisabled    = "Compte désactivé"
	MsgAccountExpired     = "Votre compte étudiant a expiré"

	CSRFToken = "fake-csrf-token"
)

// Request is what the server saw
type Request struct {
	Method        string
	Path          string
	Authorization string
	CSRFToken     string
	RequestID     string
}

type account struct {
	user         models.User
	passwordHash string
}

type Server struct {
	URL string

	srv    *httptest.Server
	issuer issuer

	mu         sync.Mutex
	accounts   map[string]*account // by username
	nextID     int64
	refreshes  map[string]string   // refresh token -> username
	accesses   map[string]struct{} // access tokens not revoked
	blacklist  map[string]struct{}
	requests   []Request
	accessTTL  time.Duration
	refreshN   int
	refreshLag time.Duration
	rejectAll  bool
	failLogout bool
}

// Start runs the server until the test ends. URL points to the API root.
func Start(t *testing.T) *Server {
	t.Helper()

	s := &Server{
		issuer:    newIssuer(),
		accounts:  make(map[string]*account),
		nextID:    1,
		refreshes: make(map[string]string),
		accesses:  make(map[string]struct{}),
		blacklist: make(map[string]struct{}),
		accessTTL: defaultAccessTTL,
	}

	s.srv = httptest.NewServer(s.routes())
	s.URL = s.srv.URL + "/api"
	t.Cleanup(s.srv.Close)

	return s
}

// Close stops the server, later requests fail at transport level
func (s *Server) Close() {
	s.srv.Close()
}

func (s *Server) routes() http.Handler {
	auth := http.NewServeMux()
	auth.HandleFunc("POST /auth/login/", s.login)
	auth.HandleFunc("POST /auth/register-student/", s.register)
	auth.HandleFunc("POST /auth/token/refresh/", s.refresh)
	auth.Handle("POST /auth/logout/", s.withCSRF(http.HandlerFunc(s.logout)))
	auth.Handle("GET /auth/current-user/", s.withUser(http.HandlerFunc(s.currentUser)))
	auth.Handle("POST /auth/password/change/", s.withUser(s.withCSRF(http.HandlerFunc(s.changePassword))))
	auth.Handle("PATCH /users/{id}/update_profile/", s.withUser(s.withCSRF(http.HandlerFunc(s.updateProfile))))
	auth.Handle("GET /memoires/mes_memoires/", s.withUser(s.withRole(http.HandlerFunc(s.myDocuments), models.RoleStudent)))
	auth.Handle("GET /statistiques/", s.withUser(s.withRole(http.HandlerFunc(s.statistics), models.RoleGeneralAdmin, models.RoleEntityAdmin)))

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", auth))

	return s.record(root)
}

// AddUser registers account with the password. ID is assigned when zero.
func (s *Server) AddUser(user models.User, password string) models.User {
	hash, err := hashPassword(password)
	if err != nil {
		panic(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == 0 {
		user.ID = s.nextID
	}
	s.nextID = max(s.nextID, user.ID) + 1
	if user.DateJoined.IsZero() {
		user.DateJoined = time.Now().UTC().Truncate(time.Second)
	}
	s.accounts[user.Username] = &account{user: user, passwordHash: hash}

	return user
}

// User returns current server copy of the account
func (s *Server) User(username string) (models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[username]
	if !ok {
		return models.User{}, false
	}
	return acc.user, true
}

// Issue creates token pair for username with the access token expiring at exp
func (s *Server) Issue(username string, exp time.Time) (access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[username]
	if !ok {
		panic("fakeapi: unknown user " + username)
	}
	return s.issuePairLocked(acc.user, exp)
}

func (s *Server) issuePairLocked(user models.User, exp time.Time) (string, string) {
	access, err := s.issuer.access(user, exp)
	if err != nil {
		panic(err)
	}
	refresh := s.issuer.refresh()

	s.accesses[access] = struct{}{}
	s.refreshes[refresh] = user.Username
	return access, refresh
}

// RevokeAccessTokens makes every issued access token fail with 401
func (s *Server) RevokeAccessTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.accesses)
}

// RejectRefresh makes refresh endpoint answer 401 for every token
func (s *Server) RejectRefresh(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectAll = reject
}

// SetRefreshDelay holds refresh responses, used to pile concurrent callers
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLag = d
}

// FailLogout makes logout answer 500
func (s *Server) FailLogout(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLogout = fail
}

// SetAccessTTL changes lifetime of tokens issued on login and refresh
func (s *Server) SetAccessTTL(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTTL = d
}

// RefreshCount returns number of refresh exchanges served
func (s *Server) RefreshCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshN
}

// Blacklisted reports whether refresh token was invalidated by logout
func (s *Server) Blacklisted(refresh string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blacklist[refresh]
	return ok
}

// Requests returns copy of recorded requests
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestsTo returns recorded requests with the path, without /api prefix
func (s *Server) RequestsTo(path string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:        r.Method,
			Path:          strings.TrimPrefix(r.URL.Path, "/api"),
			Authorization: r.Header.Get("Authorization"),
			CSRFToken:     r.Header.Get("X-CSRFToken"),
			RequestID:     r.Header.Get("X-Request-Id"),
		})
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

type ctxKey struct{}

func userFrom(ctx context.Context) models.User {
	return ctx.Value(ctxKey{}).(models.User)
}

func (s *Server) withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		access, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			renderJSON(w, detailResponse{Detail: "Authentication credentials were not provided."}, http.StatusUnauthorized)
			return
		}

		claims, err := s.issuer.parse(access)

		s.mu.Lock()
		_, live := s.accesses[access]
		acc, known := s.accounts[claims.Subject]
		s.mu.Unlock()

		if err != nil || !live || !known {
			renderJSON(w, detailResponse{Detail: "Given token not valid for any token type", Code: "token_not_valid"}, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, acc.user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) withRole(next http.Handler, roles ...models.Role) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userFrom(r.Context())
		for _, role := range roles {
			if user.Role == role {
				next.ServeHTTP(w, r)
				return
			}
		}
		renderJSON(w, detailResponse{Detail: "You do not have permission to perform this action."}, http.StatusForbidden)
	})
}

// withCSRF rejects unsafe requests whose CSRF header does not match the cookie
func (s *Server) withCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("csrftoken")
		if err == nil && r.Header.Get("X-CSRFToken") != cookie.Value {
			renderJSON(w, detailResponse{Detail: "CSRF Failed: CSRF token missing or incorrect."}, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type authResponse struct {
	User    models.User `json:"user"`
	Access  string      `json:"access"`
	Refresh string      `json:"refresh"`
	Message string      `json:"message,omitempty"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decode(r, &req); err != nil {
		renderError(w, "JSON parse error", http.StatusBadRequest)
		return
	}

	fields := map[string][]string{}
	if req.Username == "" {
		fields["username"] = []string{"Ce champ est obligatoire."}
	}
	if req.Password == "" {
		fields["password"] = []string{"Ce champ est obligatoire."}
	}
	if len(fields) > 0 {
		renderFields(w, fields)
		return
	}

	s.mu.Lock()
	acc, ok := s.accounts[req.Username]
	s.mu.Unlock()

	switch {
	case !ok || !checkPassword(acc.passwordHash, req.Password):
		renderError(w, MsgInvalidCredentials, http.StatusUnauthorized)
		return
	case !acc.user.IsActive:
		renderError(w, MsgAccountDisabled, http.StatusForbidden)
		return
	case acc.user.Role == models.RoleStudent && acc.user.IsExpired(time.Now()):
		renderError(w, MsgAccountExpired, http.StatusForbidden)
		return
	}

	s.mu.Lock()
	now := time.Now().UTC().Truncate(time.Second)
	acc.user.LastLogin = &now
	user := acc.user
	access, refresh := s.issuePairLocked(user, time.Now().Add(s.accessTTL))
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: CSRFToken, Path: "/"})
	renderJSON(w, authResponse{User: user, Access: access, Refresh: refresh, Message: "Connexion réussie"}, http.StatusOK)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username  string `json:"username"`
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		EntityID  *int64 `json:"entite"`
	}
	if err := decode(r, &req); err != nil {
		renderError(w, "JSON parse error", http.StatusBadRequest)
		return
	}

	fields := map[string][]string{}
	if req.Username == "" {
		fields["username"] = []string{"Ce champ est obligatoire."}
	}
	if _, taken := s.User(req.Username); taken {
		fields["username"] = []string{"Un utilisateur avec ce nom existe déjà."}
	}
	if len(req.Password) < 8 {
		fields["password"] = []string{"Ce mot de passe est trop court."}
	}
	if len(fields) > 0 {
		renderFields(w, fields)
		return
	}

	user := models.User{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      models.RoleStudent,
		IsActive:  true,
	}
	if req.EntityID != nil {
		user.Entity = &models.Entity{ID: *req.EntityID, Name: "Entité " + strconv.FormatInt(*req.EntityID, 10)}
		user.EntityName = user.Entity.Name
	}
	user = s.AddUser(user, req.Password)

	s.mu.Lock()
	access, refresh := s.issuePairLocked(user, time.Now().Add(s.accessTTL))
	s.mu.Unlock()

	renderJSON(w, authResponse{User: user, Access: access, Refresh: refresh, Message: "Inscription réussie"}, http.StatusCreated)
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := decode(r, &req); err != nil || req.Refresh == "" {
		renderFields(w, map[string][]string{"refresh": {"Ce champ est obligatoire."}})
		return
	}

	s.mu.Lock()
	s.refreshN++
	lag := s.refreshLag
	s.mu.Unlock()

	if lag > 0 {
		select {
		case <-time.After(lag):
		case <-r.Context().Done():
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	username, ok := s.refreshes[req.Refresh]
	_, revoked := s.blacklist[req.Refresh]
	if s.rejectAll || !ok || revoked {
		renderJSON(w, detailResponse{Detail: "Token is invalid or expired", Code: "token_not_valid"}, http.StatusUnauthorized)
		return
	}

	access, err := s.issuer.access(s.accounts[username].user, time.Now().Add(s.accessTTL))
	if err != nil {
		renderError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.accesses[access] = struct{}{}

	renderJSON(w, map[string]string{"access": access}, http.StatusOK)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	_ = decode(r, &req)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failLogout {
		renderError(w, "Erreur serveur interne", http.StatusInternalServerError)
		return
	}

	s.blacklist[req.Refresh] = struct{}{}
	renderJSON(w, map[string]string{"message": "Déconnexion réussie"}, http.StatusOK)
}

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, userFrom(r.Context()), http.StatusOK)
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Old  string `json:"old_password"`
		New1 string `json:"new_password1"`
		New2 string `json:"new_password2"`
	}
	if err := decode(r, &req); err != nil {
		renderError(w, "JSON parse error", http.StatusBadRequest)
		return
	}

	user := userFrom(r.Context())

	s.mu.Lock()
	acc := s.accounts[user.Username]
	s.mu.Unlock()

	switch {
	case !checkPassword(acc.passwordHash, req.Old):
		renderFields(w, map[string][]string{"old_password": {"Ancien mot de passe incorrect."}})
		return
	case req.New1 != req.New2:
		renderFields(w, map[string][]string{"new_password2": {"Les deux mots de passe ne correspondent pas."}})
		return
	}

	hash, err := hashPassword(req.New1)
	if err != nil {
		renderError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	acc.passwordHash = hash
	s.mu.Unlock()

	renderJSON(w, map[string]string{"message": "Mot de passe modifié avec succès"}, http.StatusOK)
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		renderError(w, "Not found", http.StatusNotFound)
		return
	}
	if id != user.ID && user.Role != models.RoleGeneralAdmin {
		renderJSON(w, detailResponse{Detail: "You do not have permission to perform this action."}, http.StatusForbidden)
		return
	}

	var req struct {
		Email     *string `json:"email"`
		FirstName *string `json:"first_name"`
		LastName  *string `json:"last_name"`
	}
	if err := decode(r, &req); err != nil {
		renderError(w, "JSON parse error", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var acc *account
	for _, a := range s.accounts {
		if a.user.ID == id {
			acc = a
		}
	}
	if acc == nil {
		renderError(w, "Not found", http.StatusNotFound)
		return
	}

	if req.Email != nil {
		acc.user.Email = *req.Email
	}
	if req.FirstName != nil {
		acc.user.FirstName = *req.FirstName
	}
	if req.LastName != nil {
		acc.user.LastName = *req.LastName
	}

	renderJSON(w, acc.user, http.StatusOK)
}

func (s *Server) myDocuments(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	renderJSON(w, []map[string]any{
		{"id": 1, "titre": "Mémoire de " + user.Username, "statut": "en_attente"},
	}, http.StatusOK)
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	total := len(s.accounts)
	s.mu.Unlock()

	renderJSON(w, map[string]int{"utilisateurs": total}, http.StatusOK)
}
