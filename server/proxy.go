// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package server

import (
	"net/http"
	"net/http/httputil"
	"net/url"
)

// Proxy forwards read-only RPC calls to the local node and rejects
// everything the policy denies.
type Proxy struct {
	policy *Policy
	rp     *httputil.ReverseProxy
}

func NewProxy(upstream string, policy *Policy) (*Proxy, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, err
	}
	return &Proxy{
		policy: policy,
		rp:     httputil.NewSingleHostReverseProxy(u),
	}, nil
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || p.policy.Blocks(r.URL.Path) {
		log.Warnf("rejected %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		writeError(w, http.StatusForbidden, "endpoint not exposed")
		return
	}
	p.rp.ServeHTTP(w, r)
}
