package admission

import (
	"context"
	"encoding/json"

	"github.com/NVIDIA/mediaorch/bus"
	"github.com/NVIDIA/mediaorch/cmn"
	"github.com/NVIDIA/mediaorch/cmn/nlog"
	"github.com/NVIDIA/mediaorch/task"
)

// SubmitTopic is the bus topic URL-only submitters publish to, the "same
// operation available via a bus subscription" named in spec §4.5.
const SubmitTopic = "submit.tasks"

// submitEnvelope is the wire shape accepted on SubmitTopic; it has no
// upload path, only a source URL.
type submitEnvelope struct {
	Source       string                    `json:"source"`
	Profiles     []task.Profile            `json:"profiles"`
	S3Layout     task.S3Layout             `json:"s3_output_config"`
	FaceConfig   *task.FaceDetectionConfig `json:"face_detection_config,omitempty"`
	Callback     *task.Callback            `json:"callback,omitempty"`
	NotifyTopic  string                    `json:"notify_topic,omitempty"`
}

// RunListener subscribes to SubmitTopic until ctx is cancelled. Malformed or
// rejected submissions are acked (redelivery would not change the outcome);
// transient failures (blob/bus unreachable) are nacked for retry.
func (c *Controller) RunListener(ctx context.Context, inflight int) error {
	return c.Bus.Subscribe(ctx, SubmitTopic, bus.SubscribeOptions{Subscription: "admission", Inflight: inflight}, func(ctx context.Context, msg bus.Message) error {
		var env submitEnvelope
		if err := json.Unmarshal(msg.Body, &env); err != nil {
			nlog.Warningf("submit.tasks: malformed envelope: %v", err)
			msg.Ack()
			return nil
		}
		if !sourceIsURL(env.Source) {
			nlog.Warningf("submit.tasks: source is not a URL, dropping: %q", env.Source)
			msg.Ack()
			return nil
		}
		_, _, err := c.Submit(ctx, SubmitInput{
			Source: env.Source, Profiles: env.Profiles, S3Layout: env.S3Layout,
			FaceConfig: env.FaceConfig, Callback: env.Callback, NotifyTopic: env.NotifyTopic,
		})
		switch {
		case err == nil:
			msg.Ack()
		case cmn.IsKind(err, cmn.KindBadRequest), cmn.IsKind(err, cmn.KindNoApplicableProfile):
			nlog.Warningf("submit.tasks: rejected: %v", err)
			msg.Ack()
		default:
			nlog.Errorf("submit.tasks: transient failure, nacking: %v", err)
			msg.Nack(true)
		}
		return nil
	})
}
