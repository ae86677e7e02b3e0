package luna

import (
	"bytes"
	"encoding/json"
	"fmt"

	"audiod/internal/core/domain"
	apperrors "audiod/pkg/errors"
	"audiod/pkg/validation"
)

type setVolumeParams struct {
	StreamType *string `json:"streamType"`
	SourceType *string `json:"sourceType"`
	Volume     *int    `json:"volume"`
	Ramp       bool    `json:"ramp"`
}

type muteParams struct {
	StreamType *string `json:"streamType"`
	SourceType *string `json:"sourceType"`
	Mute       *bool   `json:"mute"`
}

type statusParams struct {
	StreamType *string `json:"streamType"`
	SourceType *string `json:"sourceType"`
	Subscribe  bool    `json:"subscribe"`
}

type appVolumeParams struct {
	StreamType *string `json:"streamType"`
	Volume     *int    `json:"volume"`
	MediaID    *string `json:"mediaId"`
}

// decode unmarshals params into dst. An empty body is treated as {}.
func decode(params json.RawMessage, dst interface{}) error {
	body := bytes.TrimSpace(params)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperrors.NewInvalidParametersError(fmt.Sprintf("Invalid JSON payload: %v", err))
	}
	return nil
}

func requireStream(name string, value *string) (domain.StreamID, error) {
	if value == nil {
		return "", apperrors.NewInvalidParametersError(fmt.Sprintf("Missing required parameter '%s'", name))
	}
	if err := validation.ValidateStreamType(*value); err != nil {
		return "", apperrors.NewInvalidParametersError(fmt.Sprintf("%s: %v", name, err))
	}
	return domain.StreamID(*value), nil
}

func optionalStream(name string, value *string) (domain.StreamID, error) {
	if value == nil || *value == "" {
		return "", nil
	}
	return requireStream(name, value)
}

func requireVolume(value *int) (int, error) {
	if value == nil {
		return 0, apperrors.NewInvalidParametersError("Missing required parameter 'volume'")
	}
	if err := validation.ValidateVolume(*value); err != nil {
		return 0, apperrors.NewVolumeOutOfRangeError(err.Error())
	}
	return *value, nil
}
