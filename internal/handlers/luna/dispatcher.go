package luna

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"audiod/internal/core/domain"
	"audiod/internal/core/ports"
	apperrors "audiod/pkg/errors"
	"audiod/pkg/tracing"
	"audiod/pkg/validation"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// Reply is a Luna JSON reply body.
type Reply map[string]interface{}

// Call is one method invocation arriving on some transport.
type Call struct {
	Transport string
	Method    string
	Params    json.RawMessage
	// CanSubscribe is false for transports that cannot push, in which case
	// subscribe:true is answered with subscribed:false.
	CanSubscribe bool
}

type handlerFunc func(ctx context.Context, call Call) (Reply, *Watcher, error)

type method struct {
	write  bool
	handle handlerFunc
}

// Dispatcher routes Luna method names to the volume policy service.
type Dispatcher struct {
	service ports.VolumePolicyService
	methods map[string]method
	logger  *zap.SugaredLogger
}

func NewDispatcher(service ports.VolumePolicyService, logger *zap.SugaredLogger) *Dispatcher {
	d := &Dispatcher{
		service: service,
		logger:  logger,
	}
	d.methods = map[string]method{
		"setInputVolume":  {write: true, handle: d.setInputVolume},
		"setSourceVolume": {write: true, handle: d.setSourceVolume},
		"getInputVolume":  {handle: d.getInputVolume},
		"muteSink":        {write: true, handle: d.muteSink},
		"muteSource":      {write: true, handle: d.muteSource},
		"getStreamStatus": {handle: d.getStreamStatus},
		"getSourceStatus": {handle: d.getSourceStatus},
		"setAppVolume":    {write: true, handle: d.setAppVolume},
	}
	return d
}

// Methods lists the method names in sorted order.
func (d *Dispatcher) Methods() []string {
	names := make([]string, 0, len(d.methods))
	for name := range d.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsWrite reports whether method changes audio state. Unknown methods are
// not writes.
func (d *Dispatcher) IsWrite(name string) bool {
	return d.methods[name].write
}

// Invoke runs one call. A non-nil watcher is returned when the caller
// asked to subscribe and the transport can push.
func (d *Dispatcher) Invoke(ctx context.Context, call Call) (Reply, *Watcher, *apperrors.AppError) {
	ctx, span := tracing.TraceRPCMethod(ctx, call.Transport, call.Method)
	defer span.End()

	m, ok := d.methods[call.Method]
	if !ok {
		appErr := apperrors.NewInvalidParametersError(fmt.Sprintf("Unknown method '%s'", call.Method))
		span.SetStatus(codes.Error, appErr.Message)
		return nil, nil, appErr
	}

	reply, watcher, err := m.handle(ctx, call)
	if err != nil {
		appErr := apperrors.GetAppError(err)
		if appErr == nil {
			appErr = ToAppError(err, "")
		}
		span.RecordError(err)
		span.SetAttributes(tracing.ErrorCodeKey.Int(int(appErr.Code)))
		span.SetStatus(codes.Error, appErr.Message)
		d.logger.Debugw("Method failed",
			"method", call.Method,
			"transport", call.Transport,
			"error_code", appErr.Code,
			"error", err,
		)
		return nil, nil, appErr
	}

	reply["returnValue"] = true
	return reply, watcher, nil
}

func (d *Dispatcher) setInputVolume(ctx context.Context, call Call) (Reply, *Watcher, error) {
	return d.setVolume(ctx, call, domain.KindSink)
}

func (d *Dispatcher) setSourceVolume(ctx context.Context, call Call) (Reply, *Watcher, error) {
	return d.setVolume(ctx, call, domain.KindSource)
}

func (d *Dispatcher) setVolume(ctx context.Context, call Call, kind domain.StreamKind) (Reply, *Watcher, error) {
	var p setVolumeParams
	if err := decode(call.Params, &p); err != nil {
		return nil, nil, err
	}
	key, raw := streamParam(kind, p.StreamType, p.SourceType)
	stream, err := requireStream(key, raw)
	if err != nil {
		return nil, nil, err
	}
	volume, err := requireVolume(p.Volume)
	if err != nil {
		return nil, nil, err
	}

	tracing.AddSpanAttributes(ctx, tracing.StreamTypeKey.String(string(stream)), tracing.VolumeKey.Int(volume))
	// The reply echoes the requested level even while the stream is ducked.
	if _, err := d.service.SetVolume(ctx, kind, stream, volume, p.Ramp); err != nil {
		return nil, nil, ToAppError(err, stream)
	}
	return Reply{"volume": volume, key: string(stream)}, nil, nil
}

func (d *Dispatcher) getInputVolume(ctx context.Context, call Call) (Reply, *Watcher, error) {
	var p statusParams
	if err := decode(call.Params, &p); err != nil {
		return nil, nil, err
	}
	stream, err := requireStream("streamType", p.StreamType)
	if err != nil {
		return nil, nil, err
	}

	status, err := d.service.Status(ctx, domain.KindSink, stream)
	if err != nil {
		return nil, nil, ToAppError(err, stream)
	}

	render := func(n domain.StatusNotification) Reply {
		return Reply{"returnValue": true, "volume": n.Stream.Volume, "streamType": string(n.Stream.Stream)}
	}
	reply := Reply{"volume": status.Volume, "streamType": string(stream)}
	watcher := subscribe(call, p.Subscribe, reply, &Watcher{
		Method: call.Method,
		Kind:   domain.KindSink,
		Stream: stream,
		render: render,
	})
	return reply, watcher, nil
}

func (d *Dispatcher) muteSink(ctx context.Context, call Call) (Reply, *Watcher, error) {
	return d.mute(ctx, call, domain.KindSink)
}

func (d *Dispatcher) muteSource(ctx context.Context, call Call) (Reply, *Watcher, error) {
	return d.mute(ctx, call, domain.KindSource)
}

func (d *Dispatcher) mute(ctx context.Context, call Call, kind domain.StreamKind) (Reply, *Watcher, error) {
	var p muteParams
	if err := decode(call.Params, &p); err != nil {
		return nil, nil, err
	}
	key, raw := streamParam(kind, p.StreamType, p.SourceType)
	stream, err := requireStream(key, raw)
	if err != nil {
		return nil, nil, err
	}
	if p.Mute == nil {
		return nil, nil, apperrors.NewInvalidParametersError("Missing required parameter 'mute'")
	}

	tracing.AddSpanAttributes(ctx, tracing.StreamTypeKey.String(string(stream)))
	status, err := d.service.SetMute(ctx, kind, stream, *p.Mute)
	if err != nil {
		return nil, nil, ToAppError(err, stream)
	}
	return Reply{"mute": status.Muted, key: string(stream)}, nil, nil
}

func (d *Dispatcher) getStreamStatus(ctx context.Context, call Call) (Reply, *Watcher, error) {
	return d.streamStatus(ctx, call, domain.KindSink)
}

func (d *Dispatcher) getSourceStatus(ctx context.Context, call Call) (Reply, *Watcher, error) {
	return d.streamStatus(ctx, call, domain.KindSource)
}

func (d *Dispatcher) streamStatus(ctx context.Context, call Call, kind domain.StreamKind) (Reply, *Watcher, error) {
	var p statusParams
	if err := decode(call.Params, &p); err != nil {
		return nil, nil, err
	}
	key, raw := streamParam(kind, p.StreamType, p.SourceType)
	stream, err := optionalStream(key, raw)
	if err != nil {
		return nil, nil, err
	}
	objectKey := statusObjectKey(kind)

	var statuses []domain.StreamStatus
	if stream != "" {
		status, err := d.service.Status(ctx, kind, stream)
		if err != nil {
			return nil, nil, ToAppError(err, stream)
		}
		statuses = []domain.StreamStatus{status}
	} else {
		statuses, err = d.service.ActiveStatuses(ctx, kind)
		if err != nil {
			return nil, nil, ToAppError(err, "")
		}
	}

	reply := Reply{objectKey: renderStatuses(kind, statuses)}
	watcher := subscribe(call, p.Subscribe, reply, &Watcher{
		Method: call.Method,
		Kind:   kind,
		Stream: stream,
		render: func(n domain.StatusNotification) Reply {
			if stream != "" {
				return Reply{"returnValue": true, objectKey: renderStatuses(kind, []domain.StreamStatus{n.Stream})}
			}
			return Reply{"returnValue": true, objectKey: renderStatuses(kind, n.Active)}
		},
	})
	return reply, watcher, nil
}

func (d *Dispatcher) setAppVolume(ctx context.Context, call Call) (Reply, *Watcher, error) {
	var p appVolumeParams
	if err := decode(call.Params, &p); err != nil {
		return nil, nil, err
	}
	stream, err := requireStream("streamType", p.StreamType)
	if err != nil {
		return nil, nil, err
	}
	volume, err := requireVolume(p.Volume)
	if err != nil {
		return nil, nil, err
	}
	if p.MediaID == nil {
		return nil, nil, apperrors.NewInvalidParametersError("Missing required parameter 'mediaId'")
	}
	if err := validation.ValidateMediaID(*p.MediaID); err != nil {
		return nil, nil, apperrors.NewInvalidParametersError(fmt.Sprintf("mediaId: %v", err))
	}

	if err := d.service.SetAppVolume(ctx, stream, *p.MediaID, volume); err != nil {
		return nil, nil, ToAppError(err, stream)
	}
	return Reply{"mediaId": *p.MediaID, "volume": volume, "streamType": string(stream)}, nil, nil
}

// subscribe fills in "subscribed" and returns w only when the
// subscription was granted.
func subscribe(call Call, requested bool, reply Reply, w *Watcher) *Watcher {
	granted := requested && call.CanSubscribe
	reply["subscribed"] = granted
	if !granted {
		return nil
	}
	return w
}

func streamParam(kind domain.StreamKind, streamType, sourceType *string) (string, *string) {
	if kind == domain.KindSource {
		return "sourceType", sourceType
	}
	return "streamType", streamType
}

func statusObjectKey(kind domain.StreamKind) string {
	if kind == domain.KindSource {
		return "sourceObject"
	}
	return "streamObject"
}

func renderStatuses(kind domain.StreamKind, statuses []domain.StreamStatus) []map[string]interface{} {
	key := "streamType"
	if kind == domain.KindSource {
		key = "sourceType"
	}
	out := make([]map[string]interface{}, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, map[string]interface{}{
			key:            string(s.Stream),
			"muteStatus":   s.Muted,
			"inputVolume":  s.Volume,
			"sink":         s.Sink,
			"source":       s.Source,
			"policyStatus": s.PolicyActive,
			"activeStatus": s.Active,
		})
	}
	return out
}
