package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/xeipuuv/gojsonschema"

	"nithronos/zinstaller/internal/installer"
	"nithronos/zinstaller/internal/payload"
	"nithronos/zinstaller/internal/pools"
)

const maxInstallBody = 1 << 20

const installSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["destination_disks"],
  "properties": {
    "destination_disks": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}},
    "wipe_disks": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "set_pmbr": {"type": "boolean"},
    "authentication": {
      "type": ["object", "null"],
      "additionalProperties": false,
      "required": ["username", "password"],
      "properties": {
        "username": {"type": "string", "minLength": 1},
        "password": {"type": "string", "minLength": 1}
      }
    },
    "post_install": {"type": "object"},
    "sql": {"type": "string"},
    "storage_pool": {
      "type": ["object", "null"],
      "additionalProperties": false,
      "required": ["topology", "disks"],
      "properties": {
        "topology": {"type": "string"},
        "disks": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}}
      }
    }
  }
}`

var installSchemaLoader = gojsonschema.NewStringLoader(installSchema)

type installBody struct {
	DestinationDisks []string            `json:"destination_disks"`
	WipeDisks        []string            `json:"wipe_disks"`
	SetPMBR          bool                `json:"set_pmbr"`
	Authentication   *payload.AuthMethod `json:"authentication"`
	PostInstall      map[string]any      `json:"post_install"`
	SQL              string              `json:"sql"`
	StoragePool      *struct {
		Topology string   `json:"topology"`
		Disks    []string `json:"disks"`
	} `json:"storage_pool"`
}

// validateInstallBody checks raw against the install schema and returns one
// "field: problem" line per violation.
func validateInstallBody(raw []byte) ([]string, error) {
	res, err := gojsonschema.Validate(installSchemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, err
	}
	if res.Valid() {
		return nil, nil
	}
	problems := []string{}
	for _, e := range res.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	return problems, nil
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxInstallBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "install.body_too_large", err.Error(), nil)
		return
	}
	problems, err := validateInstallBody(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "install.invalid_json", err.Error(), nil)
		return
	}
	if len(problems) > 0 {
		writeError(w, http.StatusBadRequest, "install.invalid_request", "request does not match schema", problems)
		return
	}
	var body installBody
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, http.StatusBadRequest, "install.invalid_json", err.Error(), nil)
		return
	}

	if s.jobs.busy() || s.opts.Engine.Busy() {
		writeError(w, http.StatusConflict, "install.busy", errJobRunning.Error(), nil)
		return
	}

	req, err := s.buildRequest(r, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "install.invalid_request", err.Error(), nil)
		return
	}

	job, err := s.jobs.start(s.ctx, s.opts.Engine, req, s.log)
	if errors.Is(err, errJobRunning) {
		writeError(w, http.StatusConflict, "install.busy", err.Error(), nil)
		return
	}
	w.Header().Set("Location", "/api/v1/install/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

// buildRequest resolves disk names against a fresh listing.
func (s *Server) buildRequest(r *http.Request, body installBody) (installer.Request, error) {
	all, err := s.opts.Disks.List(r.Context())
	if err != nil {
		return installer.Request{}, fmt.Errorf("list disks: %w", err)
	}
	dest, err := installer.SelectDisks(all, body.DestinationDisks)
	if err != nil {
		return installer.Request{}, err
	}
	wipe, err := installer.SelectDisks(all, body.WipeDisks)
	if err != nil {
		return installer.Request{}, err
	}
	req := installer.Request{
		DestinationDisks: dest,
		WipeDisks:        wipe,
		SetPMBR:          body.SetPMBR,
		Authentication:   body.Authentication,
		PostInstall:      body.PostInstall,
		SerialSQL:        body.SQL,
	}
	if sp := body.StoragePool; sp != nil {
		t, err := pools.ParseTopology(sp.Topology)
		if err != nil {
			return installer.Request{}, err
		}
		req.StoragePool = &installer.StoragePoolConfig{Topology: t, Disks: sp.Disks}
	}
	return req, nil
}
