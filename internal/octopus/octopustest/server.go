// Package octopustest provides an in-memory Octopus Deploy API for tests.
//
// The server implements just the endpoints octobranch calls, stores every
// resource as a generic JSON object (so unknown fields survive PUTs the same
// way they do on a real server) and records each request for assertions on
// ordering and call counts.
package octopustest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"octobranch/internal/octopus"
)

// Object is a stored resource.
type Object = map[string]interface{}

// Request is a recorded API call.
type Request struct {
	Method string
	Path   string // relative to /api/
	Query  url.Values
	Body   []byte
}

// String renders the request as "METHOD path".
func (r Request) String() string {
	return r.Method + " " + r.Path
}

// Server is a fake Octopus server. Create it with NewServer and Close it when done.
type Server struct {
	*httptest.Server

	APIKey string

	mu        sync.Mutex
	counters  map[string]int
	spaces    []Object
	data      map[string][]Object // "<space>/<collection>"
	processes map[string]Object   // "<space>/<project>"
	requests  []Request
	failWith  func(method, path string) int
	onCancel  func(task Object)
}

var idPrefixes = map[string]string{
	"spaces":       "Spaces",
	"environments": "Environments",
	"lifecycles":   "Lifecycles",
	"projects":     "Projects",
	"machines":     "Machines",
	"channels":     "Channels",
	"releases":     "Releases",
	"deployments":  "Deployments",
	"tasks":        "ServerTasks",
}

// NewServer starts a fake server that expects apiKey on every request.
func NewServer(apiKey string) *Server {
	s := &Server{
		APIKey:    apiKey,
		counters:  make(map[string]int),
		data:      make(map[string][]Object),
		processes: make(map[string]Object),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// FailWith installs a hook returning a status code to force for a request, or 0 to serve it normally.
func (s *Server) FailWith(fn func(method, path string) int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = fn
}

// OnCancel installs a hook invoked (under the server lock) when a task is cancelled.
func (s *Server) OnCancel(fn func(task Object)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCancel = fn
}

// Requests returns a copy of the recorded requests.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// ResetRequests clears the request log.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = nil
}

// CountRequests counts recorded requests with the given method whose path has prefix.
func (s *Server) CountRequests(method, prefix string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method && strings.HasPrefix(r.Path, prefix) {
			n++
		}
	}
	return n
}

func (s *Server) nextID(collection string) string {
	s.counters[collection]++
	return fmt.Sprintf("%s-%d", idPrefixes[collection], s.counters[collection])
}

func toObject(v interface{}) Object {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var obj Object
	if err := json.Unmarshal(data, &obj); err != nil {
		panic(err)
	}
	return obj
}

func (s *Server) insert(spaceID, collection string, obj Object) string {
	id := s.nextID(collection)
	obj["Id"] = id
	if spaceID != "" {
		obj["SpaceId"] = spaceID
	}
	key := spaceID + "/" + collection
	s.data[key] = append(s.data[key], obj)
	return id
}

// AddSpace seeds a space.
func (s *Server) AddSpace(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID("spaces")
	s.spaces = append(s.spaces, Object{"Id": id, "Name": name})
	return id
}

// AddProject seeds a project.
func (s *Server) AddProject(spaceID, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(spaceID, "projects", Object{"Name": name})
}

// AddEnvironment seeds an environment.
func (s *Server) AddEnvironment(spaceID, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(spaceID, "environments", Object{"Name": name})
}

// AddChannel seeds a project channel.
func (s *Server) AddChannel(spaceID, projectID, name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(spaceID, "channels", Object{"Name": name, "ProjectId": projectID, "IsDefault": false})
}

// AddMachine seeds a deployment target. extra fields are stored alongside the modelled ones.
func (s *Server) AddMachine(spaceID, name string, roles, envIDs []string, extra Object) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj := Object{}
	for k, v := range extra {
		obj[k] = v
	}
	obj["Name"] = name
	obj["Roles"] = nonNil(roles)
	obj["EnvironmentIds"] = nonNil(envIDs)
	return s.insert(spaceID, "machines", obj)
}

// SetDeploymentProcess seeds the deployment process of a project.
func (s *Server) SetDeploymentProcess(spaceID, projectID string, process octopus.DeploymentProcess) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processes[spaceID+"/"+projectID] = toObject(process)
}

// AddRelease seeds a release of a project in a channel.
func (s *Server) AddRelease(spaceID, projectID, channelID, version string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(spaceID, "releases", Object{"ProjectId": projectID, "ChannelId": channelID, "Version": version})
}

// AddDeployment seeds a deployment and its task. It returns the deployment and task ids.
func (s *Server) AddDeployment(spaceID, projectID, channelID string, completed bool) (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := "Executing"
	if completed {
		state = "Success"
	}
	taskID := s.insert(spaceID, "tasks", Object{"State": state, "IsCompleted": completed})
	depID := s.insert(spaceID, "deployments", Object{"ProjectId": projectID, "ChannelId": channelID, "TaskId": taskID})
	return depID, taskID
}

// Items returns copies of the stored objects of a collection.
func (s *Server) Items(spaceID, collection string) []Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Object
	for _, obj := range s.data[spaceID+"/"+collection] {
		out = append(out, toObject(obj))
	}
	return out
}

// Find returns a copy of a stored object by id.
func (s *Server) Find(spaceID, collection, id string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, obj := s.lookup(spaceID, collection, id); obj != nil {
		return toObject(obj), true
	}
	return nil, false
}

// Machine returns a stored deployment target decoded as octopus.Machine.
func (s *Server) Machine(spaceID, id string) (octopus.Machine, bool) {
	obj, ok := s.Find(spaceID, "machines", id)
	if !ok {
		return octopus.Machine{}, false
	}
	var m octopus.Machine
	data, _ := json.Marshal(obj)
	if err := json.Unmarshal(data, &m); err != nil {
		panic(err)
	}
	return m, true
}

func (s *Server) lookup(spaceID, collection, id string) (int, Object) {
	for i, obj := range s.data[spaceID+"/"+collection] {
		if obj["Id"] == id {
			return i, obj
		}
	}
	return -1, nil
}

func (s *Server) remove(spaceID, collection, id string) bool {
	key := spaceID + "/" + collection
	i, _ := s.lookup(spaceID, collection, id)
	if i < 0 {
		return false
	}
	s.data[key] = append(s.data[key][:i], s.data[key][i+1:]...)
	return true
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rel := strings.TrimPrefix(r.URL.Path, "/api/")

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, Request{Method: r.Method, Path: rel, Query: r.URL.Query(), Body: body})

	if r.Header.Get(octopus.APIKeyHeader) != s.APIKey {
		writeJSON(w, http.StatusUnauthorized, Object{"ErrorMessage": "You must be logged in to perform this action."})
		return
	}
	if s.failWith != nil {
		if code := s.failWith(r.Method, rel); code != 0 {
			writeJSON(w, code, Object{"ErrorMessage": "injected failure"})
			return
		}
	}

	parts := strings.Split(rel, "/")
	for i, p := range parts {
		if u, err := url.PathUnescape(p); err == nil {
			parts[i] = u
		}
	}

	var payload Object
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			writeJSON(w, http.StatusBadRequest, Object{"ErrorMessage": "invalid JSON"})
			return
		}
	}

	status, resp := s.route(r.Method, parts, r.URL.Query(), payload)
	writeJSON(w, status, resp)
}

func (s *Server) route(method string, parts []string, q url.Values, payload Object) (int, interface{}) {
	notFound := Object{"ErrorMessage": "The resource you requested was not found."}
	if payload == nil {
		payload = Object{}
	}

	if parts[0] == "spaces" {
		switch {
		case len(parts) == 1 && method == http.MethodGet:
			return http.StatusOK, page(filterPartial(s.spaces, q.Get("partialName")))
		case len(parts) == 2 && method == http.MethodGet:
			for _, sp := range s.spaces {
				if sp["Id"] == parts[1] {
					return http.StatusOK, sp
				}
			}
		}
		return http.StatusNotFound, notFound
	}

	if len(parts) < 2 {
		return http.StatusNotFound, notFound
	}
	space, collection := parts[0], parts[1]
	key := space + "/" + collection

	// project-scoped collections
	if collection == "projects" && len(parts) >= 4 {
		projectID, sub := parts[2], parts[3]
		switch {
		case sub == "channels" && len(parts) == 4 && method == http.MethodGet:
			return http.StatusOK, page(filterPartial(filterField(s.data[space+"/channels"], "ProjectId", projectID), q.Get("partialName")))
		case sub == "channels" && len(parts) == 4 && method == http.MethodPost:
			payload["ProjectId"] = projectID
			s.insert(space, "channels", payload)
			return http.StatusCreated, payload
		case sub == "channels" && len(parts) == 5 && method == http.MethodDelete:
			if s.remove(space, "channels", parts[4]) {
				return http.StatusOK, nil
			}
		case sub == "deploymentprocesses" && method == http.MethodGet:
			if p, ok := s.processes[space+"/"+projectID]; ok {
				return http.StatusOK, p
			}
		case sub == "releases" && method == http.MethodGet:
			return http.StatusOK, page(filterField(s.data[space+"/releases"], "ProjectId", projectID))
		}
		return http.StatusNotFound, notFound
	}

	switch {
	case len(parts) == 2 && method == http.MethodGet:
		items := s.data[key]
		if collection == "deployments" {
			items = filterField(filterField(items, "ProjectId", q.Get("projects")), "ChannelId", q.Get("channels"))
		}
		return http.StatusOK, page(filterPartial(items, q.Get("partialName")))
	case len(parts) == 2 && method == http.MethodPost:
		s.insert(space, collection, payload)
		return http.StatusCreated, payload
	case len(parts) == 3 && method == http.MethodGet:
		if _, obj := s.lookup(space, collection, parts[2]); obj != nil {
			return http.StatusOK, obj
		}
	case len(parts) == 3 && method == http.MethodPut:
		if i, obj := s.lookup(space, collection, parts[2]); obj != nil {
			payload["Id"] = parts[2]
			s.data[key][i] = payload
			return http.StatusOK, payload
		}
	case len(parts) == 3 && method == http.MethodDelete:
		if s.remove(space, collection, parts[2]) {
			return http.StatusOK, nil
		}
	case len(parts) == 4 && collection == "tasks" && parts[3] == "cancel" && method == http.MethodPost:
		if _, task := s.lookup(space, "tasks", parts[2]); task != nil {
			task["State"] = "Cancelling"
			if s.onCancel != nil {
				s.onCancel(task)
			}
			return http.StatusOK, task
		}
	}
	return http.StatusNotFound, notFound
}

func filterPartial(items []Object, partial string) []Object {
	if partial == "" {
		return items
	}
	var out []Object
	for _, obj := range items {
		name, _ := obj["Name"].(string)
		if strings.Contains(strings.ToLower(name), strings.ToLower(partial)) {
			out = append(out, obj)
		}
	}
	return out
}

func filterField(items []Object, field, value string) []Object {
	if value == "" {
		return items
	}
	var out []Object
	for _, obj := range items {
		if obj[field] == value {
			out = append(out, obj)
		}
	}
	return out
}

func page(items []Object) Object {
	if items == nil {
		items = []Object{}
	}
	return Object{"Items": items, "TotalResults": len(items), "ItemsPerPage": len(items)}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
