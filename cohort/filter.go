// Copyright 2021 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cohort

import (
	"fmt"

	"github.com/grailbio/cohort/encoding/vcf"
	"github.com/robertkrimen/otto"
)

// InvalidParameterError marks a filter parameter or expression rejected
// during validation, before any input I/O.
type InvalidParameterError struct {
	Param  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Param, e.Reason)
}

// FilterParams holds the caller-supplied quality thresholds and the optional
// free-form filter expressions.  Thresholds are inclusive minimums; the
// expressions are javascript predicates evaluated with the record's fields
// in scope.
type FilterParams struct {
	// MinQual applies to the site QUAL column; sites with a present QUAL
	// below it are dropped.
	MinQual int
	// MinDepth, MinGQ and MinAltReads apply per sample call, to FORMAT DP,
	// GQ and the alternate AD entry respectively.
	MinDepth    int
	MinGQ       int
	MinAltReads int

	// InfoExpr is evaluated per site with QUAL, FILTER and the INFO keys
	// bound; a falsy result drops the site.
	InfoExpr string
	// FormatExpr is evaluated per call with GT, DP, GQ, AD, REF_READS and
	// ALT_READS bound; a falsy result drops the call.
	FormatExpr string
}

// Validate rejects out-of-range thresholds and uncompilable expressions.
// It must pass before the pipeline performs any I/O.
func (p *FilterParams) Validate() error {
	for _, t := range []struct {
		name  string
		value int
	}{
		{"min_qual", p.MinQual},
		{"min_depth", p.MinDepth},
		{"min_gq", p.MinGQ},
		{"min_alt_reads", p.MinAltReads},
	} {
		if t.value < 0 {
			return &InvalidParameterError{t.name, fmt.Sprintf("must be non-negative, got %d", t.value)}
		}
	}
	if _, err := compileExpr(p.InfoExpr); err != nil {
		return &InvalidParameterError{"info_filter", err.Error()}
	}
	if _, err := compileExpr(p.FormatExpr); err != nil {
		return &InvalidParameterError{"format_filter", err.Error()}
	}
	return nil
}

// exprHelpers defines all()/any() so expressions written for the original
// batch runner, e.g. `all( FILTER == "PASS" )`, evaluate unchanged.
const exprHelpers = `
function all(x) { if (Array.isArray(x)) { return x.every(function(v) { return !!v; }); } return !!x; }
function any(x) { if (Array.isArray(x)) { return x.some(function(v) { return !!v; }); } return !!x; }
`

type expr struct {
	vm     *otto.Otto
	script *otto.Script
	bound  map[string]bool
}

// compileExpr compiles src into a reusable predicate.  An empty src yields a
// nil expr, meaning "always true".  The returned expr owns its VM and is not
// safe for concurrent use; each pipeline worker compiles its own.
//
// The source is wrapped so that a key absent from a record evaluates as
// undefined rather than raising a ReferenceError.  Any comparison against
// undefined is false, so a record missing a key named in the predicate fails
// it the same way no matter where the record sits in the input.
func compileExpr(src string) (*expr, error) {
	if src == "" {
		return nil, nil
	}
	vm := otto.New()
	if _, err := vm.Run(exprHelpers); err != nil {
		return nil, err
	}
	wrapped := "(function() { try { return (" + src + "); } catch (err) { if (err instanceof ReferenceError) { return false; } throw err; } })()"
	script, err := vm.Compile("", wrapped)
	if err != nil {
		return nil, err
	}
	return &expr{vm: vm, script: script, bound: map[string]bool{}}, nil
}

func (e *expr) eval(bindings map[string]interface{}) (bool, error) {
	if e == nil {
		return true, nil
	}
	// Keys bound for the previous record must not leak into this one.  Reset
	// any straggler to undefined before installing the current bindings.
	for k := range e.bound {
		if _, ok := bindings[k]; !ok {
			if err := e.vm.Set(k, otto.UndefinedValue()); err != nil {
				return false, err
			}
		}
		delete(e.bound, k)
	}
	for k, v := range bindings {
		if err := e.vm.Set(k, v); err != nil {
			return false, err
		}
		e.bound[k] = true
	}
	v, err := e.vm.Run(e.script)
	if err != nil {
		return false, err
	}
	b, err := v.ToBoolean()
	if err != nil {
		return false, err
	}
	return b, nil
}

// filterEngine evaluates the site and sample predicates for one pipeline
// worker.  Predicates are pure functions of the record's fields; the same
// inputs and thresholds always produce the same decisions.
type filterEngine struct {
	params     FilterParams
	infoExpr   *expr
	formatExpr *expr
}

func newFilterEngine(params FilterParams) (*filterEngine, error) {
	f := &filterEngine{params: params}
	var err error
	if f.infoExpr, err = compileExpr(params.InfoExpr); err != nil {
		return nil, &InvalidParameterError{"info_filter", err.Error()}
	}
	if f.formatExpr, err = compileExpr(params.FormatExpr); err != nil {
		return nil, &InvalidParameterError{"format_filter", err.Error()}
	}
	return f, nil
}

// siteOK evaluates the site-level predicate against the raw record.  A
// failing site is dropped entirely, calls and all.
func (f *filterEngine) siteOK(rec *vcf.Record) (bool, error) {
	if rec.HasQual && rec.Qual < float64(f.params.MinQual) {
		return false, nil
	}
	if f.infoExpr == nil {
		return true, nil
	}
	bindings := map[string]interface{}{
		"QUAL":   rec.Qual,
		"FILTER": rec.Filter,
		"INFO":   rec.InfoMap(),
	}
	for k, v := range rec.InfoMap() {
		bindings[k] = v
	}
	return f.infoExpr.eval(bindings)
}

// callOK evaluates the per-sample predicate.  A failing call is dropped:
// the sample is treated as absent at the site, not as reference.
func (f *filterEngine) callOK(c *Call) (bool, error) {
	if c.DP < int32(f.params.MinDepth) {
		return false, nil
	}
	if c.GQ < int32(f.params.MinGQ) {
		return false, nil
	}
	if c.AltDepth < int32(f.params.MinAltReads) && c.AltAlleles > 0 {
		return false, nil
	}
	if f.formatExpr == nil {
		return true, nil
	}
	return f.formatExpr.eval(map[string]interface{}{
		"GT":        c.GT().String(),
		"DP":        int(c.DP),
		"GQ":        int(c.GQ),
		"AD":        []int{int(c.RefDepth), int(c.AltDepth)},
		"REF_READS": int(c.RefDepth),
		"ALT_READS": int(c.AltDepth),
	})
}

// filterCalls applies callOK in place, returning the surviving calls.
func (f *filterEngine) filterCalls(calls []Call) ([]Call, error) {
	out := calls[:0]
	for i := range calls {
		ok, err := f.callOK(&calls[i])
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, calls[i])
		}
	}
	return out, nil
}
