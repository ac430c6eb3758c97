// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package server

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"blockwatch.cc/tzgo/tezos"

	"blockwatch.cc/tzcore/roll"
	"blockwatch.cc/tzcore/seed"
	"blockwatch.cc/tzcore/storage"
)

func TestPolicyBlocks(t *testing.T) {
	p := DefaultPolicy
	for _, path := range []string{
		"/injection/operation",
		"/injection/block",
		"/forge/operations",
		"/network/connections",
	} {
		if !p.Blocks(path) {
			t.Errorf("policy allows %s", path)
		}
	}
	for _, path := range []string{
		"/chains/main/blocks/head",
		"/monitor/heads/main",
	} {
		if p.Blocks(path) {
			t.Errorf("policy blocks %s", path)
		}
	}
}

func TestLoadPolicyValidation(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	if err := ioutil.WriteFile(good, []byte(`{"deny":["/injection/"]}`), 0600); err != nil {
		t.Fatal(err)
	}
	p, err := LoadPolicy(good)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Deny) != 1 || !p.Blocks("/injection/operation") {
		t.Fatalf("policy: %+v", p)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := ioutil.WriteFile(bad, []byte(`{"deny":"nope"}`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPolicy(bad); err == nil {
		t.Fatal("invalid policy accepted")
	}

	if p, err := LoadPolicy(""); err != nil || p != DefaultPolicy {
		t.Fatalf("empty path: %v %v", p, err)
	}
}

func TestProxyFiltering(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("upstream:" + r.URL.Path))
	}))
	defer upstream.Close()

	proxy, err := NewProxy(upstream.URL, DefaultPolicy)
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest("GET", "/chains/main/blocks/head", nil))
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("upstream:")) {
		t.Fatalf("allowed path: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest("GET", "/injection/operation", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("denied path: %d", rec.Code)
	}

	// mutating methods never pass, whatever the path
	rec = httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest("POST", "/chains/main/blocks/head", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("POST passed: %d", rec.Code)
	}
}

func TestRightsHandler(t *testing.T) {
	p := &tezos.Params{
		TokensPerRoll:         1000,
		PreservedCycles:       2,
		BlocksPerCycle:        8,
		BlocksPerVotingPeriod: 32,
		BlocksPerCommitment:   4,
	}
	rolls := roll.NewRegistry(p)
	ctx := storage.NewContext(storage.NewMemStore())
	d := tezos.Address{Type: tezos.AddressTypeEd25519, Hash: bytes.Repeat([]byte{1}, 20)}
	if err := rolls.AddAmount(ctx, d, 3000); err != nil {
		t.Fatal(err)
	}
	var s seed.Seed
	s[0] = 1
	if err := roll.PutCycleSeed(ctx, 0, s); err != nil {
		t.Fatal(err)
	}
	if err := rolls.InitCycle(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := rolls.SnapshotRollsForCycle(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := rolls.FreezeRollsForCycle(ctx, 0, s); err != nil {
		t.Fatal(err)
	}

	h := &RightsHandler{Backend: &RightsBackend{Ctx: ctx, Rolls: rolls, Params: p}}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/rights?level=3&kind=baking&priority=0", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("rights: %d %s", rec.Code, rec.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["delegate"] != d.String() {
		t.Fatalf("delegate: %v", resp["delegate"])
	}

	// unknown cycles are a 404
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/rights?level=100", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing snapshot: %d", rec.Code)
	}

	// level is mandatory
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/rights", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing level: %d", rec.Code)
	}
}
