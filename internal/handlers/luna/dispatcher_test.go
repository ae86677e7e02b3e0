package luna

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"audiod/internal/core/domain"
	apperrors "audiod/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockPolicyService struct {
	mock.Mock
}

func (m *MockPolicyService) SetVolume(ctx context.Context, kind domain.StreamKind, stream domain.StreamID, volume int, ramp bool) (domain.StreamStatus, error) {
	args := m.Called(ctx, kind, stream, volume, ramp)
	return args.Get(0).(domain.StreamStatus), args.Error(1)
}

func (m *MockPolicyService) SetMute(ctx context.Context, kind domain.StreamKind, stream domain.StreamID, mute bool) (domain.StreamStatus, error) {
	args := m.Called(ctx, kind, stream, mute)
	return args.Get(0).(domain.StreamStatus), args.Error(1)
}

func (m *MockPolicyService) SetAppVolume(ctx context.Context, stream domain.StreamID, mediaID string, volume int) error {
	args := m.Called(ctx, stream, mediaID, volume)
	return args.Error(0)
}

func (m *MockPolicyService) Status(ctx context.Context, kind domain.StreamKind, stream domain.StreamID) (domain.StreamStatus, error) {
	args := m.Called(ctx, kind, stream)
	return args.Get(0).(domain.StreamStatus), args.Error(1)
}

func (m *MockPolicyService) ActiveStatuses(ctx context.Context, kind domain.StreamKind) ([]domain.StreamStatus, error) {
	args := m.Called(ctx, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.StreamStatus), args.Error(1)
}

func (m *MockPolicyService) BackendReady(ctx context.Context, backend domain.MixerBackend) (bool, error) {
	args := m.Called(ctx, backend)
	return args.Bool(0), args.Error(1)
}

func newTestDispatcher() (*Dispatcher, *MockPolicyService) {
	svc := &MockPolicyService{}
	return NewDispatcher(svc, zap.NewNop().Sugar()), svc
}

func call(method, params string) Call {
	return Call{Transport: "test", Method: method, Params: json.RawMessage(params), CanSubscribe: true}
}

func TestDispatcher_SetInputVolume(t *testing.T) {
	d, svc := newTestDispatcher()
	svc.On("SetVolume", mock.Anything, domain.KindSink, domain.StreamID("pmedia"), 50, true).
		Return(domain.StreamStatus{Stream: "pmedia", Volume: 50}, nil)

	reply, watcher, appErr := d.Invoke(context.Background(), call("setInputVolume", `{"streamType":"pmedia","volume":50,"ramp":true}`))
	require.Nil(t, appErr)
	assert.Nil(t, watcher)
	assert.Equal(t, Reply{"returnValue": true, "volume": 50, "streamType": "pmedia"}, reply)
	svc.AssertExpectations(t)

	t.Run("ducked stream replies with the requested volume", func(t *testing.T) {
		d, svc := newTestDispatcher()
		svc.On("SetVolume", mock.Anything, domain.KindSink, domain.StreamID("pmedia"), 70, false).
			Return(domain.StreamStatus{Stream: "pmedia", Volume: 30, PolicyActive: true}, nil)
		svc.On("SetVolume", mock.Anything, domain.KindSource, domain.StreamID("precord"), 65, false).
			Return(domain.StreamStatus{Stream: "precord", Volume: 20, PolicyActive: true}, nil)

		reply, _, appErr := d.Invoke(context.Background(), call("setInputVolume", `{"streamType":"pmedia","volume":70}`))
		require.Nil(t, appErr)
		assert.Equal(t, Reply{"returnValue": true, "volume": 70, "streamType": "pmedia"}, reply)

		reply, _, appErr = d.Invoke(context.Background(), call("setSourceVolume", `{"sourceType":"precord","volume":65}`))
		require.Nil(t, appErr)
		assert.Equal(t, Reply{"returnValue": true, "volume": 65, "sourceType": "precord"}, reply)
		svc.AssertExpectations(t)
	})
}

func TestDispatcher_ParameterErrors(t *testing.T) {
	tests := []struct {
		name   string
		method string
		params string
		code   apperrors.ErrorCode
	}{
		{"unknown method", "setVolumeEverywhere", `{}`, apperrors.ErrCodeInvalidParameters},
		{"malformed json", "setInputVolume", `{"streamType":`, apperrors.ErrCodeInvalidParameters},
		{"missing stream", "setInputVolume", `{"volume":10}`, apperrors.ErrCodeInvalidParameters},
		{"missing volume", "setInputVolume", `{"streamType":"pmedia"}`, apperrors.ErrCodeInvalidParameters},
		{"mistyped volume", "setInputVolume", `{"streamType":"pmedia","volume":"10"}`, apperrors.ErrCodeInvalidParameters},
		{"volume above range", "setInputVolume", `{"streamType":"pmedia","volume":101}`, apperrors.ErrCodeVolumeOutOfRange},
		{"volume below range", "setSourceVolume", `{"sourceType":"precord","volume":-1}`, apperrors.ErrCodeVolumeOutOfRange},
		{"source method with streamType", "muteSource", `{"streamType":"precord","mute":true}`, apperrors.ErrCodeInvalidParameters},
		{"missing mute", "muteSink", `{"streamType":"pmedia"}`, apperrors.ErrCodeInvalidParameters},
		{"bad stream name", "getInputVolume", `{"streamType":"../etc"}`, apperrors.ErrCodeInvalidParameters},
		{"missing media id", "setAppVolume", `{"streamType":"pmedia","volume":3}`, apperrors.ErrCodeInvalidParameters},
		{"bad media id", "setAppVolume", `{"streamType":"pmedia","volume":3,"mediaId":"a b"}`, apperrors.ErrCodeInvalidParameters},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, svc := newTestDispatcher()

			reply, _, appErr := d.Invoke(context.Background(), call(tt.method, tt.params))
			require.NotNil(t, appErr)
			assert.Nil(t, reply)
			assert.Equal(t, tt.code, appErr.Code)
			svc.AssertNotCalled(t, "SetVolume", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			svc.AssertNotCalled(t, "SetMute", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestDispatcher_EngineErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code apperrors.ErrorCode
	}{
		{"unknown stream", fmt.Errorf("sink %q: %w", "doesNotExist", domain.ErrUnknownStream), apperrors.ErrCodeUnknownStream},
		{"out of stream bounds", domain.ErrVolumeOutOfRange, apperrors.ErrCodeVolumeOutOfRange},
		{"not adjustable", domain.ErrVolumeNotAdjustable, apperrors.ErrCodeVolumeOutOfRange},
		{"backend down", domain.ErrBackendUnavailable, apperrors.ErrCodeBackendUnavailable},
		{"engine stopped", domain.ErrEngineStopped, apperrors.ErrCodeInternal},
		{"cancelled", context.Canceled, apperrors.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, svc := newTestDispatcher()
			svc.On("SetVolume", mock.Anything, domain.KindSink, domain.StreamID("doesNotExist"), 10, false).
				Return(domain.StreamStatus{}, tt.err)

			_, _, appErr := d.Invoke(context.Background(), call("setInputVolume", `{"streamType":"doesNotExist","volume":10}`))
			require.NotNil(t, appErr)
			assert.Equal(t, tt.code, appErr.Code)
		})
	}

	t.Run("unknown stream text names the stream", func(t *testing.T) {
		appErr := ToAppError(domain.ErrUnknownStream, "doesNotExist")
		assert.Equal(t, "Audio stream type 'doesNotExist' is not supported", appErr.Message)
		assert.Equal(t, false, appErr.Reply()["returnValue"])
	})
}

func TestDispatcher_Mute(t *testing.T) {
	d, svc := newTestDispatcher()
	svc.On("SetMute", mock.Anything, domain.KindSink, domain.StreamID("pmedia"), true).
		Return(domain.StreamStatus{Stream: "pmedia", Muted: true}, nil)
	svc.On("SetMute", mock.Anything, domain.KindSource, domain.StreamID("precord"), false).
		Return(domain.StreamStatus{Stream: "precord"}, nil)

	reply, _, appErr := d.Invoke(context.Background(), call("muteSink", `{"streamType":"pmedia","mute":true}`))
	require.Nil(t, appErr)
	assert.Equal(t, Reply{"returnValue": true, "mute": true, "streamType": "pmedia"}, reply)

	reply, _, appErr = d.Invoke(context.Background(), call("muteSource", `{"sourceType":"precord","mute":false}`))
	require.Nil(t, appErr)
	assert.Equal(t, Reply{"returnValue": true, "mute": false, "sourceType": "precord"}, reply)
	svc.AssertExpectations(t)
}

func TestDispatcher_GetStreamStatus(t *testing.T) {
	media := domain.StreamStatus{Stream: "pmedia", Kind: domain.KindSink, Volume: 30, Sink: "speaker", PolicyActive: true, Active: true}
	alert := domain.StreamStatus{Stream: "palert", Kind: domain.KindSink, Volume: 60, Active: true}

	t.Run("all active streams", func(t *testing.T) {
		d, svc := newTestDispatcher()
		svc.On("ActiveStatuses", mock.Anything, domain.KindSink).Return([]domain.StreamStatus{media, alert}, nil)

		reply, watcher, appErr := d.Invoke(context.Background(), call("getStreamStatus", ``))
		require.Nil(t, appErr)
		assert.Nil(t, watcher)
		assert.Equal(t, false, reply["subscribed"])

		objects := reply["streamObject"].([]map[string]interface{})
		require.Len(t, objects, 2)
		assert.Equal(t, map[string]interface{}{
			"streamType":   "pmedia",
			"muteStatus":   false,
			"inputVolume":  30,
			"sink":         "speaker",
			"source":       "",
			"policyStatus": true,
			"activeStatus": true,
		}, objects[0])
	})

	t.Run("single stream with subscription", func(t *testing.T) {
		d, svc := newTestDispatcher()
		svc.On("Status", mock.Anything, domain.KindSink, domain.StreamID("pmedia")).Return(media, nil)

		reply, watcher, appErr := d.Invoke(context.Background(), call("getStreamStatus", `{"streamType":"pmedia","subscribe":true}`))
		require.Nil(t, appErr)
		require.NotNil(t, watcher)
		assert.Equal(t, true, reply["subscribed"])

		_, ok := watcher.Render(domain.StatusNotification{Kind: domain.KindSink, Stream: alert})
		assert.False(t, ok)
		_, ok = watcher.Render(domain.StatusNotification{Kind: domain.KindSource, Stream: media})
		assert.False(t, ok)

		media.Volume = 80
		pushed, ok := watcher.Render(domain.StatusNotification{Kind: domain.KindSink, Reason: domain.ReasonPolicy, Stream: media})
		require.True(t, ok)
		assert.Equal(t, true, pushed["subscribed"])
		objects := pushed["streamObject"].([]map[string]interface{})
		require.Len(t, objects, 1)
		assert.Equal(t, 80, objects[0]["inputVolume"])
	})

	t.Run("subscription refused by transport", func(t *testing.T) {
		d, svc := newTestDispatcher()
		svc.On("ActiveStatuses", mock.Anything, domain.KindSink).Return([]domain.StreamStatus{}, nil)

		c := call("getStreamStatus", `{"subscribe":true}`)
		c.CanSubscribe = false
		reply, watcher, appErr := d.Invoke(context.Background(), c)
		require.Nil(t, appErr)
		assert.Nil(t, watcher)
		assert.Equal(t, false, reply["subscribed"])
		assert.Empty(t, reply["streamObject"])
	})
}

func TestDispatcher_GetSourceStatus(t *testing.T) {
	d, svc := newTestDispatcher()
	record := domain.StreamStatus{Stream: "precord", Kind: domain.KindSource, Volume: 70, Active: true}
	svc.On("ActiveStatuses", mock.Anything, domain.KindSource).Return([]domain.StreamStatus{record}, nil)

	reply, watcher, appErr := d.Invoke(context.Background(), call("getSourceStatus", `{"subscribe":true}`))
	require.Nil(t, appErr)
	require.NotNil(t, watcher)

	objects := reply["sourceObject"].([]map[string]interface{})
	require.Len(t, objects, 1)
	assert.Equal(t, "precord", objects[0]["sourceType"])

	pushed, ok := watcher.Render(domain.StatusNotification{
		Kind:   domain.KindSource,
		Reason: domain.ReasonClosed,
		Stream: domain.StreamStatus{Stream: "precord", Kind: domain.KindSource},
		Active: nil,
	})
	require.True(t, ok)
	assert.Empty(t, pushed["sourceObject"])
}

func TestDispatcher_GetInputVolume(t *testing.T) {
	d, svc := newTestDispatcher()
	svc.On("Status", mock.Anything, domain.KindSink, domain.StreamID("pmedia")).
		Return(domain.StreamStatus{Stream: "pmedia", Volume: 80}, nil)
	svc.On("Status", mock.Anything, domain.KindSink, domain.StreamID("doesNotExist")).
		Return(domain.StreamStatus{}, domain.ErrUnknownStream)

	reply, watcher, appErr := d.Invoke(context.Background(), call("getInputVolume", `{"streamType":"pmedia","subscribe":true}`))
	require.Nil(t, appErr)
	require.NotNil(t, watcher)
	assert.Equal(t, Reply{"returnValue": true, "volume": 80, "streamType": "pmedia", "subscribed": true}, reply)

	pushed, ok := watcher.Render(domain.StatusNotification{Kind: domain.KindSink, Stream: domain.StreamStatus{Stream: "pmedia", Volume: 30}})
	require.True(t, ok)
	assert.Equal(t, Reply{"returnValue": true, "volume": 30, "streamType": "pmedia", "subscribed": true}, pushed)

	_, _, appErr = d.Invoke(context.Background(), call("getInputVolume", `{"streamType":"doesNotExist"}`))
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.ErrCodeUnknownStream, appErr.Code)
}

func TestDispatcher_SetAppVolume(t *testing.T) {
	d, svc := newTestDispatcher()
	svc.On("SetAppVolume", mock.Anything, domain.StreamID("pmedia"), "42", 35).Return(nil)

	reply, _, appErr := d.Invoke(context.Background(), call("setAppVolume", `{"streamType":"pmedia","volume":35,"mediaId":"42"}`))
	require.Nil(t, appErr)
	assert.Equal(t, Reply{"returnValue": true, "mediaId": "42", "volume": 35, "streamType": "pmedia"}, reply)
	svc.AssertExpectations(t)
}

func TestDispatcher_MethodTable(t *testing.T) {
	d, _ := newTestDispatcher()

	assert.Equal(t, []string{
		"getInputVolume", "getSourceStatus", "getStreamStatus", "muteSink",
		"muteSource", "setAppVolume", "setInputVolume", "setSourceVolume",
	}, d.Methods())
	assert.True(t, d.IsWrite("setInputVolume"))
	assert.True(t, d.IsWrite("setAppVolume"))
	assert.False(t, d.IsWrite("getStreamStatus"))
	assert.False(t, d.IsWrite("nope"))
}
