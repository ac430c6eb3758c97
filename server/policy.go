// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"strings"

	"github.com/qri-io/jsonschema"
)

// Policy lists RPC path prefixes the proxy refuses to forward. Mutating,
// forge/inject and connection management endpoints stay local.
type Policy struct {
	Deny []string `json:"deny"`
}

var policySchema = []byte(`{
  "type": "object",
  "required": ["deny"],
  "properties": {
    "deny": {
      "type": "array",
      "items": { "type": "string", "minLength": 1 }
    }
  },
  "additionalProperties": false
}`)

// DefaultPolicy blocks everything that can change node or chain state.
var DefaultPolicy = &Policy{
	Deny: []string{
		"/injection/",
		"/private/",
		"/network/connections",
		"/network/peers/",
		"/forge/",
		"/helpers/forge/",
		"/workers/",
	},
}

// LoadPolicy reads and validates a policy file. An empty path returns
// the default policy.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy, nil
	}
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server: reading policy %s: %v", path, err)
	}
	rs := &jsonschema.Schema{}
	if err := json.Unmarshal(policySchema, rs); err != nil {
		return nil, err
	}
	keyErrs, err := rs.ValidateBytes(context.Background(), buf)
	if err != nil {
		return nil, err
	}
	if len(keyErrs) > 0 {
		return nil, fmt.Errorf("server: invalid policy %s: %v", path, keyErrs[0])
	}
	p := &Policy{}
	if err := json.Unmarshal(buf, p); err != nil {
		return nil, err
	}
	log.Infof("loaded proxy policy with %d deny rules from %s", len(p.Deny), path)
	return p, nil
}

// Blocks tests a request path against the deny list.
func (p *Policy) Blocks(path string) bool {
	for _, d := range p.Deny {
		if strings.HasPrefix(path, d) {
			return true
		}
	}
	return false
}
