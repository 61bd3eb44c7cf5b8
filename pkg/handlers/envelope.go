package handlers

import (
	"encoding/json"

	"github.com/jordigilh/kubernaut-workflow-engine/internal/apperrors"
)

// envelope is the JSON object threaded between sequenced nodes: each
// handler decodes the upstream node's envelope, reads what it needs,
// merges its own result fields in, and returns the widened envelope so a
// handler several steps downstream can still see the original trigger
// fields without a separate side channel.
type envelope map[string]any

func decodeEnvelope(args json.RawMessage) (envelope, error) {
	env := envelope{}
	if len(args) == 0 {
		return env, nil
	}
	if err := json.Unmarshal(args, &env); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "decode handler envelope")
	}
	return env, nil
}

// decodeEnvelopeArray decodes a chord join's input: the ordered array of
// its members' envelopes.
func decodeEnvelopeArray(args json.RawMessage) ([]envelope, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(args, &raw); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "decode handler envelope array")
	}
	envs := make([]envelope, len(raw))
	for i, r := range raw {
		env, err := decodeEnvelope(r)
		if err != nil {
			return nil, err
		}
		envs[i] = env
	}
	return envs, nil
}

func (e envelope) with(patch map[string]any) envelope {
	out := make(envelope, len(e)+len(patch))
	for k, v := range e {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func (e envelope) encode() (json.RawMessage, error) {
	out, err := json.Marshal(e)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "encode handler envelope")
	}
	return out, nil
}

func (e envelope) str(key string) string {
	v, _ := e[key].(string)
	return v
}

func (e envelope) strSlice(key string) []string {
	raw, ok := e[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
