// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/emfoursolutions/trakbridge/pkg/util/log"
)

// Factory builds one provider instance.
type Factory func() Provider

var (
	catalogMutex sync.RWMutex
	catalog      = make(map[string]Factory)
)

// Register adds a provider factory to the catalog. Provider packages call it
// from init, the run command pulls them in with blank imports.
func Register(kind string, factory Factory) {
	catalogMutex.Lock()
	defer catalogMutex.Unlock()
	if _, found := catalog[kind]; found {
		log.Warnf("Provider %s already registered, overriding it", kind)
	}
	catalog[kind] = factory
}

// Build returns a new provider of the given kind.
func Build(kind string) (Provider, error) {
	catalogMutex.RLock()
	factory, found := catalog[kind]
	catalogMutex.RUnlock()
	if !found {
		return nil, fmt.Errorf("unknown provider kind %q, registered: %v", kind, Kinds())
	}
	return factory(), nil
}

// Kinds returns the sorted registered provider kinds.
func Kinds() []string {
	catalogMutex.RLock()
	defer catalogMutex.RUnlock()
	kinds := make([]string, 0, len(catalog))
	for kind := range catalog {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
