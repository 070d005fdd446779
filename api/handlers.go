package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/juju/errors"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/credential"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/enrich"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/stream"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/tracker"
)

// Errors returned to client requests.
var (
	ErrBadLimit = errors.New("limit must be a positive integer")
	ErrNoAddr   = errors.New("undefined address - missing in uri")
)

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body  any    `json:"body,omitempty"`
	Error string `json:"error,omitempty"`
}

// StatusReply is the body of GET /status.
type StatusReply struct {
	tracker.Status
	Credentials []credential.Status `json:"credentials,omitempty"`
	Cache       *enrich.Stats       `json:"cache,omitempty"`
}

// reply writes the envelope. Errors caused by the request are replied with 400, the rest with 500.
func reply(rw http.ResponseWriter, r *http.Request, status int, body any, err error) {
	var res Response

	if err != nil {
		res.Error = err.Error()

		status = http.StatusInternalServerError
		if errors.Is(err, tracker.ErrInvalidSubject) || errors.Is(err, ErrBadLimit) || errors.Is(err, ErrNoAddr) {
			status = http.StatusBadRequest
		}
	} else {
		res.Body = body
	}

	logger.Debugf("httpreq from %v %s %s status:%d err:%v", r.RemoteAddr, r.Method, r.RequestURI, status, err)

	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(&res)
}

// homeHandler just replies a welcome message to the client.
func (a *API) homeHandler(rw http.ResponseWriter, r *http.Request) {
	reply(rw, r, http.StatusOK, "Hello, this is the "+a.t.Net()+" wallet signal tracker!", nil)
}

// subjectsHandler replies the tracked subjects.
func (a *API) subjectsHandler(rw http.ResponseWriter, r *http.Request) {
	reply(rw, r, http.StatusOK, a.t.Subjects(), nil)
}

// subjectHandler starts (PUT) or stops (DELETE) tracking the address in the uri.
func (a *API) subjectHandler(rw http.ResponseWriter, r *http.Request) {
	address, ok := mux.Vars(r)["address"]
	if !ok || address == "" {
		reply(rw, r, 0, nil, ErrNoAddr)

		return
	}

	var err error
	if r.Method == http.MethodPut {
		err = a.t.AddSubject(r.Context(), address)
	} else {
		err = a.t.RemoveSubject(r.Context(), address)
	}

	reply(rw, r, http.StatusOK, address, err)
}

// eventsHandler replies the last emitted transactions, most recent first, up to ?limit=n.
func (a *API) eventsHandler(rw http.ResponseWriter, r *http.Request) {
	limit := 0

	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			reply(rw, r, 0, nil, errors.Annotatef(ErrBadLimit, "%q", s))

			return
		}

		limit = n
	}

	reply(rw, r, http.StatusOK, a.t.History(limit), nil)
}

// statusHandler replies the stream and pipeline status.
func (a *API) statusHandler(rw http.ResponseWriter, r *http.Request) {
	st := StatusReply{Status: a.t.Status()}

	if a.creds != nil {
		st.Credentials = a.creds()
	}

	if a.cache != nil {
		s := a.cache()
		st.Cache = &s
	}

	reply(rw, r, http.StatusOK, st, nil)
}

// connectHandler restarts the stream connection. A stream already connecting or open is left alone.
func (a *API) connectHandler(rw http.ResponseWriter, r *http.Request) {
	err := a.t.Connect(r.Context())
	if errors.Is(err, stream.ErrNoCredentials) {
		reply(rw, r, 0, nil, err)

		return
	}

	// other failures are retried in the background
	reply(rw, r, http.StatusAccepted, a.t.Status().State, nil)
}

// filterHandler replies the filter allowlist and denylist.
func (a *API) filterHandler(rw http.ResponseWriter, r *http.Request) {
	reply(rw, r, http.StatusOK, a.t.FilterLists(), nil)
}

// allowHandler adds (PUT) or removes (DELETE) a program id from the allowlist.
func (a *API) allowHandler(rw http.ResponseWriter, r *http.Request) {
	program := mux.Vars(r)["program"]

	var err error
	if r.Method == http.MethodPut {
		err = a.t.AllowProgram(r.Context(), program)
	} else {
		err = a.t.DisallowProgram(r.Context(), program)
	}

	reply(rw, r, http.StatusOK, a.t.FilterLists(), err)
}

// denyHandler adds (PUT) or removes (DELETE) an address from the denylist.
func (a *API) denyHandler(rw http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	var err error
	if r.Method == http.MethodPut {
		err = a.t.DenyAddress(r.Context(), address)
	} else {
		err = a.t.UndenyAddress(r.Context(), address)
	}

	reply(rw, r, http.StatusOK, a.t.FilterLists(), err)
}
