// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"strings"

	"github.com/teradata-labs/conductor/pkg/prompts"
	"github.com/teradata-labs/conductor/pkg/types"
)

// buildInputs assembles a stage's prompt inputs from its inputs_map and
// validates them against the prompt's input schema. Sources:
//
//	stage:<name>.<field>  output field of an upstream stage
//	arg:<name>            command invocation argument
//	session:<key>         session context (id, command)
//
// Anything else is taken as a literal value.
func buildInputs(stage *Stage, desc *prompts.Descriptor, sess *types.Session, args map[string]string) (map[string]interface{}, error) {
	inputs, err := assembleInputs(stage, sess, args)
	if err != nil {
		return nil, err
	}
	if err := desc.ValidateInputs(inputs); err != nil {
		return nil, err
	}
	return inputs, nil
}

// assembleInputs resolves the inputs_map without schema validation. The
// scheduler validates after tool results have been merged in.
func assembleInputs(stage *Stage, sess *types.Session, args map[string]string) (map[string]interface{}, error) {
	inputs := make(map[string]interface{}, len(stage.InputsMap))
	for name, source := range stage.InputsMap {
		value, err := resolveSource(stage, source, sess, args)
		if err != nil {
			return nil, err
		}
		if value != nil {
			inputs[name] = value
		}
	}
	return inputs, nil
}

func resolveSource(stage *Stage, source string, sess *types.Session, args map[string]string) (interface{}, error) {
	switch {
	case strings.HasPrefix(source, "stage:"):
		ref := strings.TrimPrefix(source, "stage:")
		stageName, field, ok := strings.Cut(ref, ".")
		if !ok {
			return nil, types.NewError(types.ErrStageInputInvalid,
				"stage %q input source %q must be stage:<name>.<field>", stage.Name, source)
		}
		rec, found := sess.StageRecordFor(stageName)
		if !found || rec.State != types.StageCompleted {
			return nil, types.NewError(types.ErrStageInputInvalid,
				"stage %q needs output of stage %q which has not completed", stage.Name, stageName)
		}
		value, present := rec.Output[field]
		if !present {
			return nil, types.NewError(types.ErrStageInputInvalid,
				"stage %q output has no field %q", stageName, field)
		}
		return value, nil

	case strings.HasPrefix(source, "arg:"):
		name := strings.TrimPrefix(source, "arg:")
		value, present := args[name]
		if !present {
			// Missing arguments surface through schema validation when
			// the input is required.
			return nil, nil
		}
		return value, nil

	case strings.HasPrefix(source, "session:"):
		switch key := strings.TrimPrefix(source, "session:"); key {
		case "id":
			return sess.ID, nil
		case "command":
			return sess.Command, nil
		default:
			return nil, types.NewError(types.ErrStageInputInvalid,
				"stage %q references unknown session key %q", stage.Name, key)
		}

	default:
		return source, nil
	}
}
