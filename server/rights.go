// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package server

import (
	"net/http"

	"blockwatch.cc/tzgo/tezos"
	"github.com/gorilla/schema"

	"blockwatch.cc/tzcore/chain"
	"blockwatch.cc/tzcore/roll"
	"blockwatch.cc/tzcore/storage"
)

var decoder = schema.NewDecoder()

// RightsRequest selects one right to resolve.
type RightsRequest struct {
	Level    int64  `schema:"level,required"`
	Kind     string `schema:"kind"`     // baking (default) or endorsement
	Priority int    `schema:"priority"` // baking priority or endorsement slot
}

// RightsBackend answers rights queries from committed protocol state.
type RightsBackend struct {
	Ctx    *storage.Context
	Rolls  *roll.Registry
	Params *tezos.Params
}

// RightsHandler serves GET /rights?level=N&kind=baking&priority=0.
type RightsHandler struct {
	Backend *RightsBackend
}

func (h *RightsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req RightsRequest
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := decoder.Decode(&req, r.Form); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Kind == "" {
		req.Kind = roll.PurposeBaking
	}
	if req.Kind != roll.PurposeBaking && req.Kind != roll.PurposeEndorsement {
		writeError(w, http.StatusBadRequest, "unknown rights kind")
		return
	}
	b := h.Backend
	level := chain.LevelFromRaw(req.Level, b.Params)
	var owner tezos.Address
	var err error
	if req.Kind == roll.PurposeBaking {
		owner, err = b.Rolls.BakingRightsOwner(b.Ctx, level, req.Priority)
	} else {
		owner, err = b.Rolls.EndorsementRightsOwner(b.Ctx, level, req.Priority)
	}
	if err != nil {
		if err == roll.ErrNoRollSnapshotForCycle {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"level":    req.Level,
		"cycle":    level.Cycle,
		"kind":     req.Kind,
		"priority": req.Priority,
		"delegate": owner.String(),
	})
}
