// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bootstore

import "github.com/bureau-foundation/bootstore/trustquorum"

// Output is the result of every [Fsm] operation. If Persist is set the
// caller must durably save [Fsm.Persistent] before sending Envelopes
// or feeding the Fsm another event.
type Output struct {
	Persist   bool
	Envelopes []Envelope
	APIOutput *APIResult
}

// APIResult is the answer to a local API call. Exactly one of Value
// and Err is set.
type APIResult struct {
	Value APIOutput
	Err   error
}

// APIOutput is a successful API result: one of [RackInitComplete],
// [RackSecretLoaded], or [LearningCompleted].
type APIOutput interface {
	apiOutput()
}

// RackInitComplete is reported at the initializer once every founding
// member has acknowledged its share package.
type RackInitComplete struct{}

// RackSecretLoaded carries the reconstructed rack secret. The
// receiver owns Secret and must Close it.
type RackSecretLoaded struct {
	Secret *trustquorum.RackSecret
}

// LearningCompleted is reported when a learner has received its share.
type LearningCompleted struct{}

func (RackInitComplete) apiOutput()  {}
func (RackSecretLoaded) apiOutput()  {}
func (LearningCompleted) apiOutput() {}

func apiValue(value APIOutput) Output {
	return Output{APIOutput: &APIResult{Value: value}}
}

func apiError(err error) Output {
	return Output{APIOutput: &APIResult{Err: err}}
}

// merge folds other into o. If both carry an API result the one
// already in o is kept and other's is released.
func (o *Output) merge(other Output) {
	o.Persist = o.Persist || other.Persist
	o.Envelopes = append(o.Envelopes, other.Envelopes...)
	if o.APIOutput == nil {
		o.APIOutput = other.APIOutput
	} else if other.APIOutput != nil {
		other.APIOutput.close()
	}
}

func (r *APIResult) close() {
	if loaded, ok := r.Value.(RackSecretLoaded); ok {
		loaded.Secret.Close()
	}
}

// Close releases the secret material held by the envelopes and the
// API result. Drivers call it once the envelopes have been encoded.
func (o Output) Close() {
	for _, envelope := range o.Envelopes {
		envelope.Msg.Close()
	}
	if o.APIOutput != nil {
		o.APIOutput.close()
	}
}
