/*
Copyright 2024 Hamlet Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package hamlet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/hamletgame/hamlet/internal/apierror"
)

// Handler applies the effect of a completed action to the game world.
// payload is the value returned by the action type's Codec.
type Handler func(ctx context.Context, villageID string, payload any) error

// Codec converts between an action type's in-memory payload and its stored bytes.
type Codec interface {
	Encode(payload any) (json.RawMessage, error)
	Decode(raw json.RawMessage) (any, error)
}

// JSONCodec stores payloads of type P as JSON. Encode accepts a P, a *P or raw JSON
// that decodes into P without unknown fields.
type JSONCodec[P any] struct{}

func (JSONCodec[P]) Encode(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case P:
		return json.Marshal(p)
	case *P:
		if p == nil {
			return nil, fmt.Errorf("payload is nil")
		}
		return json.Marshal(*p)
	case json.RawMessage:
		return normalize[P](p)
	case []byte:
		return normalize[P](p)
	default:
		var zero P
		return nil, fmt.Errorf("payload of type %T does not match %T", payload, zero)
	}
}

func (JSONCodec[P]) Decode(raw json.RawMessage) (any, error) {
	var v P
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func normalize[P any](raw []byte) (json.RawMessage, error) {
	var v P
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

type effect struct {
	codec   Codec
	handler Handler
}

// Dispatcher maps action type tags to their codec and handler.
type Dispatcher struct {
	mu      sync.RWMutex
	effects map[string]effect
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{effects: make(map[string]effect)}
}

// Register adds an action type. Registering the same type twice is an error.
func (d *Dispatcher) Register(actionType string, codec Codec, handler Handler) error {
	if actionType == "" || codec == nil || handler == nil {
		return fmt.Errorf("action type, codec and handler are required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.effects[actionType]; exists {
		return fmt.Errorf("action type %s is already registered", actionType)
	}
	d.effects[actionType] = effect{codec: codec, handler: handler}
	return nil
}

// RegisterEffect registers fn for actionType with a JSONCodec for P.
func RegisterEffect[P any](d *Dispatcher, actionType string, fn func(ctx context.Context, villageID string, payload P) error) error {
	return d.Register(actionType, JSONCodec[P]{}, func(ctx context.Context, villageID string, payload any) error {
		p, ok := payload.(P)
		if !ok {
			return fmt.Errorf("unexpected payload type %T for %s", payload, actionType)
		}
		return fn(ctx, villageID, p)
	})
}

// Types lists the registered action types in sorted order.
func (d *Dispatcher) Types() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	types := make([]string, 0, len(d.effects))
	for t := range d.effects {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (d *Dispatcher) lookup(actionType string) (effect, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.effects[actionType]
	return e, ok
}

// Encode produces the stored payload for actionType. Types without a registered codec
// are stored as plain JSON; the worker fails them when they come due.
func (d *Dispatcher) Encode(actionType string, payload any) (json.RawMessage, error) {
	if e, ok := d.lookup(actionType); ok {
		raw, err := e.codec.Encode(payload)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Invalid payload for %s: %v", actionType, err), nil)
		}
		return raw, nil
	}

	switch p := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Payload is not valid JSON", nil)
		}
		return p, nil
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Invalid payload for %s: %v", actionType, err), nil)
		}
		return raw, nil
	}
}

// Dispatch decodes payload with the codec of actionType and runs its handler.
// A handler panic is recovered and reported as an effect failure.
func (d *Dispatcher) Dispatch(ctx context.Context, actionType, villageID string, payload json.RawMessage) (err error) {
	e, ok := d.lookup(actionType)
	if !ok {
		return apierror.NewAPIError(apierror.ErrUnknownActionType, fmt.Sprintf("No handler registered for %s", actionType), nil)
	}

	decoded, err := e.codec.Decode(payload)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrEffectFailure, fmt.Sprintf("Failed to decode %s payload: %v", actionType, err), nil)
	}

	defer func() {
		if r := recover(); r != nil {
			err = apierror.NewAPIError(apierror.ErrEffectFailure, fmt.Sprintf("%s handler panicked: %v", actionType, r), string(debug.Stack()))
		}
	}()

	if err := e.handler(ctx, villageID, decoded); err != nil {
		return apierror.NewAPIError(apierror.ErrEffectFailure, err.Error(), nil)
	}
	return nil
}
