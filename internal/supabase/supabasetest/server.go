// Package supabasetest runs an in-memory stand-in for a Supabase project: enough of GoTrue and
// PostgREST, including the row-level security of the marketplace schema and the award_request
// function, to exercise the client, the repository and the HTTP handlers without a network.
package supabasetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	AnonKey   = "test-anon-key"
	JWTSecret = "test-jwt-secret-with-enough-bytes"

	timeLayout = "2006-01-02T15:04:05.000000Z07:00"
)

type Row = map[string]any

type identity struct {
	id        string
	email     string
	password  string
	metadata  map[string]any
	confirmed bool
}

type failure struct {
	status  int
	code    string
	message string
}

type Server struct {
	*httptest.Server

	mu                  sync.Mutex
	requireConfirmation bool
	tokenTTL            time.Duration
	identities          map[string]*identity
	refresh             map[string]string
	tables              map[string][]Row
	failures            map[string]failure
	calls               map[string]int
	clock               time.Time
}

// New starts a server that is closed when the test ends.
func New(t testing.TB) *Server {
	s := &Server{
		tokenTTL:   time.Hour,
		identities: make(map[string]*identity),
		refresh:    make(map[string]string),
		tables: map[string][]Row{
			"users":    {},
			"requests": {},
			"offers":   {},
		},
		failures: make(map[string]failure),
		calls:    make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/signup", s.signup)
	mux.HandleFunc("POST /auth/v1/token", s.token)
	mux.HandleFunc("GET /auth/v1/user", s.user)
	mux.HandleFunc("POST /auth/v1/logout", s.logout)
	mux.HandleFunc("POST /rest/v1/rpc/{fn}", s.rpc)
	mux.HandleFunc("/rest/v1/{table}", s.rest)

	s.Server = httptest.NewServer(s.withAPIKey(mux))
	t.Cleanup(s.Close)
	return s
}

func (s *Server) withAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != AnonKey {
			writeJSON(w, http.StatusUnauthorized, Row{"message": "Invalid API key"})
			return
		}

		key := r.Method + " " + r.URL.Path
		s.mu.Lock()
		s.calls[key]++
		f, failing := s.failures[key]
		s.mu.Unlock()

		if failing {
			writeJSON(w, f.status, Row{"code": f.code, "message": f.message})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireConfirmation makes sign-up return no session and sign-in refuse unconfirmed addresses.
func (s *Server) RequireConfirmation(require bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requireConfirmation = require
}

// SetTokenTTL sets the lifetime of access tokens issued from now on.
func (s *Server) SetTokenTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenTTL = ttl
}

// Fail makes every call to method+path answer with the given error until Recover is called.
func (s *Server) Fail(method, path string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[method+" "+path] = failure{status: status, code: "XX000", message: message}
}

func (s *Server) Recover(method, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, method+" "+path)
}

// Calls returns how many times method+path was requested.
func (s *Server) Calls(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method+" "+path]
}

// CreateIdentity registers a confirmed identity without a profile row and returns its id.
func (s *Server) CreateIdentity(email, password string, metadata map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ident := &identity{
		id:        uuid.NewString(),
		email:     email,
		password:  password,
		metadata:  metadata,
		confirmed: true,
	}
	s.identities[email] = ident
	return ident.id
}

// CreateUser registers an identity together with its profile row and returns an access token for it.
func (s *Server) CreateUser(email, name, role string) (id, token string) {
	id = s.CreateIdentity(email, "password", map[string]any{"name": name, "role": role})

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.tables["users"] = append(s.tables["users"], Row{
		"id": id, "name": name, "role": role, "created_at": now, "updated_at": now,
	})
	return id, s.issue(s.identities[email], s.tokenTTL)
}

func (s *Server) Confirm(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ident, ok := s.identities[email]; ok {
		ident.confirmed = true
	}
}

// Token mints an access token for an existing identity. A negative ttl yields an expired token.
func (s *Server) Token(id string, ttl time.Duration) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ident := range s.identities {
		if ident.id == id {
			return s.issue(ident, ttl)
		}
	}
	return ""
}

// RefreshToken issues a refresh token for an existing identity.
func (s *Server) RefreshToken(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := uuid.NewString()
	s.refresh[token] = id
	return token
}

// Insert adds a row bypassing row-level security and returns it with defaults filled in.
func (s *Server) Insert(table string, row Row) Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	row = s.withDefaults(table, cloneRow(row))
	s.tables[table] = append(s.tables[table], row)
	return cloneRow(row)
}

// Rows returns a copy of a table in insertion order.
func (s *Server) Rows(table string) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]Row, 0, len(s.tables[table]))
	for _, r := range s.tables[table] {
		rows = append(rows, cloneRow(r))
	}
	return rows
}

func (s *Server) Row(table, id string) Row {
	for _, r := range s.Rows(table) {
		if r["id"] == id {
			return r
		}
	}
	return nil
}

//// Auth

func (s *Server) issue(ident *identity, ttl time.Duration) string {
	claims := jwt.MapClaims{
		"sub":           ident.id,
		"email":         ident.email,
		"role":          "authenticated",
		"user_metadata": ident.metadata,
		"exp":           time.Now().Add(ttl).Unix(),
		"iat":           time.Now().Unix(),
	}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(JWTSecret))
	return token
}

func (s *Server) session(ident *identity) Row {
	refresh := uuid.NewString()
	s.refresh[refresh] = ident.id
	return Row{
		"access_token":  s.issue(ident, s.tokenTTL),
		"token_type":    "bearer",
		"expires_in":    int(s.tokenTTL.Seconds()),
		"expires_at":    time.Now().Add(s.tokenTTL).Unix(),
		"refresh_token": refresh,
		"user":          userJSON(ident),
	}
}

func userJSON(ident *identity) Row {
	return Row{"id": ident.id, "email": ident.email, "role": "authenticated", "user_metadata": ident.metadata}
}

func (s *Server) signup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string         `json:"email"`
		Password string         `json:"password"`
		Data     map[string]any `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" || body.Password == "" {
		writeJSON(w, http.StatusBadRequest, Row{"code": 400, "error_code": "validation_failed", "msg": "Signup requires a valid password"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.identities[body.Email]; exists {
		writeJSON(w, http.StatusUnprocessableEntity, Row{"code": 422, "error_code": "user_already_exists", "msg": "User already registered"})
		return
	}

	ident := &identity{
		id:        uuid.NewString(),
		email:     body.Email,
		password:  body.Password,
		metadata:  body.Data,
		confirmed: !s.requireConfirmation,
	}
	s.identities[body.Email] = ident

	if !ident.confirmed {
		writeJSON(w, http.StatusOK, userJSON(ident))
		return
	}
	writeJSON(w, http.StatusOK, s.session(ident))
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email        string `json:"email"`
		Password     string `json:"password"`
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.URL.Query().Get("grant_type") {
	case "password":
		ident, ok := s.identities[body.Email]
		if !ok || ident.password != body.Password {
			writeJSON(w, http.StatusBadRequest, Row{"code": 400, "error_code": "invalid_credentials", "msg": "Invalid login credentials"})
			return
		}
		if !ident.confirmed {
			writeJSON(w, http.StatusBadRequest, Row{"code": 400, "error_code": "email_not_confirmed", "msg": "Email not confirmed"})
			return
		}
		writeJSON(w, http.StatusOK, s.session(ident))
	case "refresh_token":
		id, ok := s.refresh[body.RefreshToken]
		if !ok {
			writeJSON(w, http.StatusBadRequest, Row{"code": 400, "error_code": "refresh_token_not_found", "msg": "Invalid Refresh Token: Refresh Token Not Found"})
			return
		}
		delete(s.refresh, body.RefreshToken)
		for _, ident := range s.identities {
			if ident.id == id {
				writeJSON(w, http.StatusOK, s.session(ident))
				return
			}
		}
		writeJSON(w, http.StatusBadRequest, Row{"code": 400, "msg": "user not found"})
	default:
		writeJSON(w, http.StatusBadRequest, Row{"code": 400, "msg": "unsupported grant type"})
	}
}

func (s *Server) user(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.caller(r)
	if !ok || uid == "" {
		writeJSON(w, http.StatusUnauthorized, Row{"code": 401, "error_code": "bad_jwt", "msg": "invalid JWT"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ident := range s.identities {
		if ident.id == uid {
			writeJSON(w, http.StatusOK, userJSON(ident))
			return
		}
	}
	writeJSON(w, http.StatusNotFound, Row{"code": 404, "msg": "User not found"})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// caller resolves the bearer token. The anon key yields an empty uid; an invalid token yields ok=false.
func (s *Server) caller(r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || token == AnonKey {
		return "", true
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(JWTSecret), nil
	})
	if err != nil {
		return "", false
	}
	sub, _ := claims["sub"].(string)
	return sub, sub != ""
}

//// PostgREST

type policy struct {
	read   func(s *Server, uid string, row Row) bool
	insert func(s *Server, uid string, row Row) bool
	update func(s *Server, uid string, row Row) bool
}

// policies mirror the row-level security of the migrations.
var policies = map[string]policy{
	"users": {
		read:   func(s *Server, uid string, row Row) bool { return uid != "" },
		insert: func(s *Server, uid string, row Row) bool { return uid != "" && row["id"] == uid },
		update: func(s *Server, uid string, row Row) bool { return uid != "" && row["id"] == uid },
	},
	"requests": {
		read:   func(s *Server, uid string, row Row) bool { return uid != "" },
		insert: func(s *Server, uid string, row Row) bool { return uid != "" && row["user_id"] == uid },
		update: func(s *Server, uid string, row Row) bool { return uid != "" && row["user_id"] == uid },
	},
	"offers": {
		read: func(s *Server, uid string, row Row) bool {
			return uid != "" && (row["provider_id"] == uid || s.requestOwner(row["request_id"]) == uid)
		},
		insert: func(s *Server, uid string, row Row) bool {
			req := s.find("requests", row["request_id"])
			return uid != "" && row["provider_id"] == uid && req != nil && req["status"] == "open"
		},
		update: func(s *Server, uid string, row Row) bool {
			return uid != "" && (row["provider_id"] == uid || s.requestOwner(row["request_id"]) == uid)
		},
	},
}

func (s *Server) find(table string, id any) Row {
	for _, r := range s.tables[table] {
		if r["id"] == id {
			return r
		}
	}
	return nil
}

func (s *Server) requestOwner(id any) any {
	if req := s.find("requests", id); req != nil {
		return req["user_id"]
	}
	return nil
}

func (s *Server) rest(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")
	pol, ok := policies[table]
	if !ok {
		writeJSON(w, http.StatusNotFound, Row{"code": "42P01", "message": fmt.Sprintf("relation \"public.%s\" does not exist", table)})
		return
	}

	uid, ok := s.caller(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, Row{"code": "PGRST301", "message": "JWT expired"})
		return
	}

	filters, order, err := parseQuery(r.URL.RawQuery)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Row{"code": "PGRST100", "message": err.Error()})
		return
	}
	single := r.Header.Get("Accept") == "application/vnd.pgrst.object+json"

	s.mu.Lock()
	defer s.mu.Unlock()

	var result []Row
	switch r.Method {
	case http.MethodGet:
		for _, row := range s.tables[table] {
			if matches(row, filters) && pol.read(s, uid, row) {
				result = append(result, cloneRow(row))
			}
		}
		sortRows(result, order)
	case http.MethodPost:
		rows, err := decodeRows(r.Body)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, Row{"code": "PGRST102", "message": err.Error()})
			return
		}
		ignoreDuplicates := strings.Contains(r.Header.Get("Prefer"), "resolution=ignore-duplicates")
		for _, row := range rows {
			row = s.withDefaults(table, row)
			if existing := s.find(table, row["id"]); existing != nil {
				if ignoreDuplicates {
					continue
				}
				writeJSON(w, http.StatusConflict, Row{"code": "23505", "message": fmt.Sprintf("duplicate key value violates unique constraint \"%s_pkey\"", table)})
				return
			}
			if msg := check(table, row); msg != "" {
				writeJSON(w, http.StatusBadRequest, Row{"code": "23514", "message": msg})
				return
			}
			if !pol.insert(s, uid, row) {
				writeJSON(w, http.StatusForbidden, Row{"code": "42501", "message": fmt.Sprintf("new row violates row-level security policy for table \"%s\"", table)})
				return
			}
			s.tables[table] = append(s.tables[table], row)
			result = append(result, cloneRow(row))
		}
		w.Header().Set("Content-Type", "application/json")
		if single {
			s.writeSingle(w, http.StatusCreated, result)
			return
		}
		writeJSON(w, http.StatusCreated, nonNil(result))
		return
	case http.MethodPatch:
		var patch Row
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeJSON(w, http.StatusBadRequest, Row{"code": "PGRST102", "message": err.Error()})
			return
		}
		for _, row := range s.tables[table] {
			if !matches(row, filters) || !pol.update(s, uid, row) {
				continue
			}
			candidate := cloneRow(row)
			for k, v := range patch {
				candidate[k] = v
			}
			if msg := check(table, candidate); msg != "" {
				writeJSON(w, http.StatusBadRequest, Row{"code": "23514", "message": msg})
				return
			}
			for k, v := range patch {
				row[k] = v
			}
			row["updated_at"] = s.now()
			result = append(result, cloneRow(row))
		}
	default:
		writeJSON(w, http.StatusMethodNotAllowed, Row{"message": "method not allowed"})
		return
	}

	if single {
		s.writeSingle(w, http.StatusOK, result)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(result))
}

func (s *Server) writeSingle(w http.ResponseWriter, status int, rows []Row) {
	if len(rows) != 1 {
		writeJSON(w, http.StatusNotAcceptable, Row{
			"code":    "PGRST116",
			"message": "JSON object requested, multiple (or no) rows returned",
			"details": fmt.Sprintf("The result contains %d rows", len(rows)),
		})
		return
	}
	writeJSON(w, status, rows[0])
}

func (s *Server) rpc(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("fn") != "award_request" {
		writeJSON(w, http.StatusNotFound, Row{"code": "PGRST202", "message": "Could not find the function"})
		return
	}

	uid, ok := s.caller(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, Row{"code": "PGRST301", "message": "JWT expired"})
		return
	}

	var params struct {
		RequestID string `json:"p_request_id"`
		OfferID   string `json:"p_offer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeJSON(w, http.StatusBadRequest, Row{"code": "PGRST102", "message": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	req := s.find("requests", params.RequestID)
	if req == nil || req["user_id"] != uid {
		writeJSON(w, http.StatusNotFound, Row{"code": "PT404", "message": "request not found"})
		return
	}
	offer := s.find("offers", params.OfferID)
	if offer == nil || offer["request_id"] != params.RequestID {
		writeJSON(w, http.StatusNotFound, Row{"code": "PT404", "message": "offer not found"})
		return
	}
	if req["status"] != "open" {
		writeJSON(w, http.StatusConflict, Row{"code": "PT409", "message": "request is not open"})
		return
	}

	now := s.now()
	req["status"], req["updated_at"] = "awarded", now
	offer["status"], offer["updated_at"] = "accepted", now
	writeJSON(w, http.StatusOK, cloneRow(req))
}

func (s *Server) withDefaults(table string, row Row) Row {
	now := s.now()
	if id, _ := row["id"].(string); id == "" {
		row["id"] = uuid.NewString()
	}
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = now
	}
	if _, ok := row["updated_at"]; !ok {
		row["updated_at"] = now
	}
	switch table {
	case "requests":
		if _, ok := row["status"]; !ok {
			row["status"] = "open"
		}
	case "offers":
		if _, ok := row["status"]; !ok {
			row["status"] = "pending"
		}
	}
	return row
}

// check mirrors the table check constraints.
func check(table string, row Row) string {
	switch table {
	case "users":
		if row["role"] != "client" && row["role"] != "provider" {
			return "new row for relation \"users\" violates check constraint \"users_role_check\""
		}
	case "requests":
		switch row["status"] {
		case "open", "closed", "awarded":
		default:
			return "new row for relation \"requests\" violates check constraint \"requests_status_check\""
		}
	case "offers":
		price, _ := row["price"].(float64)
		delivery, _ := row["delivery_time"].(float64)
		if price <= 0 {
			return "new row for relation \"offers\" violates check constraint \"offers_price_check\""
		}
		if delivery < 1 {
			return "new row for relation \"offers\" violates check constraint \"offers_delivery_time_check\""
		}
		switch row["status"] {
		case "pending", "accepted", "rejected":
		default:
			return "new row for relation \"offers\" violates check constraint \"offers_status_check\""
		}
	}
	return ""
}

// now returns a strictly increasing timestamp so that created_at ordering is deterministic.
func (s *Server) now() string {
	t := time.Now().UTC().Truncate(time.Microsecond)
	if !t.After(s.clock) {
		t = s.clock.Add(time.Microsecond)
	}
	s.clock = t
	return t.Format(timeLayout)
}

type filter struct {
	column string
	values []string
}

type ordering struct {
	column string
	desc   bool
}

func parseQuery(raw string) ([]filter, []ordering, error) {
	var filters []filter
	var order []ordering

	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		value, err := url.QueryUnescape(value)
		if err != nil {
			return nil, nil, err
		}

		switch key {
		case "select", "on_conflict":
		case "order":
			for _, o := range strings.Split(value, ",") {
				col, dir, _ := strings.Cut(o, ".")
				order = append(order, ordering{column: col, desc: dir == "desc"})
			}
		default:
			switch {
			case strings.HasPrefix(value, "eq."):
				filters = append(filters, filter{column: key, values: []string{strings.TrimPrefix(value, "eq.")}})
			case strings.HasPrefix(value, "in.(") && strings.HasSuffix(value, ")"):
				list := strings.TrimSuffix(strings.TrimPrefix(value, "in.("), ")")
				var values []string
				if list != "" {
					values = strings.Split(list, ",")
				}
				filters = append(filters, filter{column: key, values: values})
			default:
				return nil, nil, fmt.Errorf("unsupported filter %q", part)
			}
		}
	}
	return filters, order, nil
}

func matches(row Row, filters []filter) bool {
	for _, f := range filters {
		got := fmt.Sprint(row[f.column])
		found := false
		for _, v := range f.values {
			if got == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func sortRows(rows []Row, order []ordering) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range order {
			a, b := fmt.Sprint(rows[i][o.column]), fmt.Sprint(rows[j][o.column])
			if a == b {
				continue
			}
			if o.desc {
				return a > b
			}
			return a < b
		}
		return false
	})
}

func decodeRows(body io.Reader) ([]Row, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	data = []byte(strings.TrimSpace(string(data)))
	if len(data) > 0 && data[0] == '[' {
		var rows []Row
		err = json.Unmarshal(data, &rows)
		return rows, err
	}
	var row Row
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, err
	}
	return []Row{row}, nil
}

func cloneRow(r Row) Row {
	c := make(Row, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

func nonNil(rows []Row) []Row {
	if rows == nil {
		return []Row{}
	}
	return rows
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
