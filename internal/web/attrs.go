package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sweeney/cadence-dimmer/internal/logic"
)

// maxAttrWrite bounds attribute request bodies. The combined duty attribute
// shares the device write limit.
const maxAttrWrite = logic.MaxDeviceWrite

// registerAttributes adds one plain-text endpoint per attribute file:
//
//	GET       /button_speed  presses per second
//	GET, PUT  /duty          all three duties as "d1 d2 d3"
//	GET, PUT  /ledN_duty     one channel's duty, N = 1..3
//
// POST is accepted as an alias for PUT.
func (s *Server) registerAttributes(mux *http.ServeMux) {
	mux.HandleFunc("GET /button_speed", s.handleSpeed)
	mux.HandleFunc("GET /duty", s.handleReadDuties)
	mux.HandleFunc("PUT /duty", s.handleWriteDuties)
	mux.HandleFunc("POST /duty", s.handleWriteDuties)
	for ch := 0; ch < logic.Channels; ch++ {
		path := fmt.Sprintf("/led%d_duty", ch+1)
		mux.HandleFunc("GET "+path, s.handleReadDuty(ch))
		mux.HandleFunc("PUT "+path, s.handleWriteDuty(ch))
		mux.HandleFunc("POST "+path, s.handleWriteDuty(ch))
	}
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	writeText(w, fmt.Sprintf("%d\n", s.dimmer.Speed()))
}

func (s *Server) handleReadDuties(w http.ResponseWriter, r *http.Request) {
	writeText(w, s.dimmer.Duties().String()+"\n")
}

func (s *Server) handleWriteDuties(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readAttr(w, r)
	if !ok {
		return
	}
	if err := s.dimmer.WriteDuties(body, SourceHTTP); err != nil {
		s.rejectWrite(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReadDuty(ch int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeText(w, fmt.Sprintf("%d\n", s.dimmer.Duties()[ch]))
	}
}

func (s *Server) handleWriteDuty(ch int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := s.readAttr(w, r)
		if !ok {
			return
		}
		duty, err := logic.ParseDuty(body)
		if err == nil {
			err = s.dimmer.SetDuty(ch, duty, SourceHTTP)
		}
		if err != nil {
			s.rejectWrite(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// readAttr reads a bounded request body. Oversized writes are rejected the
// way the device rejects them.
func (s *Server) readAttr(w http.ResponseWriter, r *http.Request) (string, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAttrWrite))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, fmt.Sprintf("write longer than %d bytes", maxAttrWrite), http.StatusRequestEntityTooLarge)
			return "", false
		}
		http.Error(w, "read body", http.StatusBadRequest)
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

func (s *Server) rejectWrite(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Warn("duty write rejected", "path", r.URL.Path, "error", err)
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func writeText(w http.ResponseWriter, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, s)
}
