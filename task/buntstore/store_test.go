package buntstore_test

import (
	"context"

	"github.com/NVIDIA/mediaorch/cmn/cos"
	"github.com/NVIDIA/mediaorch/task"
	"github.com/NVIDIA/mediaorch/task/buntstore"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func newTestTask(id string, profiles ...string) *task.Task {
	now := cos.Clock()
	t := &task.Task{
		TaskID:            id,
		Status:            task.StatusProcessing,
		Source:            "https://example.com/" + id + ".mp4",
		EffectiveProfiles: profiles,
		ProfileByID:       map[string]task.Profile{},
		Outputs:           map[string][]task.Artifact{},
		FailedProfiles:    map[string]string{},
		ProfileAttempts:   map[string]int{},
		FaceDetection:     task.FaceDetection{Stage: task.FaceDisabled},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	for _, p := range profiles {
		t.ProfileByID[p] = task.Profile{ID: p, OutputType: task.OutputVideo}
	}
	return t
}

var _ = Describe("ApplyPartial", func() {
	var store *buntstore.Store

	BeforeEach(func() {
		var err error
		store, err = buntstore.Open(":memory:")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	It("discards a result for a profile_id not in effective_profiles", func() {
		t := newTestTask("t1", "p1")
		Expect(store.Create(context.Background(), t)).To(Succeed())

		_, action, err := store.ApplyPartial(context.Background(), task.ProfileResult{
			TaskID: "t1", ProfileID: "ghost", Outcome: task.ProfileOK,
			Artifact: &task.Artifact{URL: "s3://x"},
		}, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(task.MergeStale))
	})

	It("dedups a second success for the same profile_id", func() {
		t := newTestTask("t2", "p1")
		Expect(store.Create(context.Background(), t)).To(Succeed())

		art := &task.Artifact{URL: "s3://x", Size: 10}
		_, action1, err := store.ApplyPartial(context.Background(), task.ProfileResult{
			TaskID: "t2", ProfileID: "p1", Outcome: task.ProfileOK, Artifact: art,
		}, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(action1).To(Equal(task.MergeApplied))

		_, action2, err := store.ApplyPartial(context.Background(), task.ProfileResult{
			TaskID: "t2", ProfileID: "p1", Outcome: task.ProfileOK, Artifact: art,
		}, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(action2).To(Equal(task.MergeDuplicate))

		got, err := store.Get(context.Background(), "t2")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Outputs["p1"]).To(HaveLen(1))
	})

	It("republishes a retryable failure under the attempt bound instead of recording it", func() {
		t := newTestTask("t3", "p1")
		Expect(store.Create(context.Background(), t)).To(Succeed())

		updated, action, err := store.ApplyPartial(context.Background(), task.ProfileResult{
			TaskID: "t3", ProfileID: "p1", Outcome: task.ProfileErr, Reason: "timeout", Retryable: true,
		}, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(task.MergeRetryProfile))
		Expect(updated.ProfileAttempts["p1"]).To(Equal(1))
		Expect(updated.FailedProfiles).NotTo(HaveKey("p1"))
	})

	It("records a failure once retries are exhausted", func() {
		t := newTestTask("t4", "p1")
		Expect(store.Create(context.Background(), t)).To(Succeed())

		for i := 0; i < 2; i++ {
			_, action, err := store.ApplyPartial(context.Background(), task.ProfileResult{
				TaskID: "t4", ProfileID: "p1", Outcome: task.ProfileErr, Reason: "timeout", Retryable: true,
			}, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(action).To(Equal(task.MergeRetryProfile))
		}
		updated, action, err := store.ApplyPartial(context.Background(), task.ProfileResult{
			TaskID: "t4", ProfileID: "p1", Outcome: task.ProfileErr, Reason: "timeout", Retryable: true,
		}, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(task.MergeApplied))
		Expect(updated.FailedProfiles["p1"]).To(Equal("timeout"))
		Expect(updated.Status).To(Equal(task.StatusFailed))
	})

	It("reaches COMPLETED only once every profile succeeds and face is not pending", func() {
		t := newTestTask("t5", "p1", "p2")
		Expect(store.Create(context.Background(), t)).To(Succeed())

		_, _, err := store.ApplyPartial(context.Background(), task.ProfileResult{
			TaskID: "t5", ProfileID: "p1", Outcome: task.ProfileOK, Artifact: &task.Artifact{URL: "s3://a"},
		}, 3)
		Expect(err).NotTo(HaveOccurred())

		updated, _, err := store.ApplyPartial(context.Background(), task.ProfileResult{
			TaskID: "t5", ProfileID: "p2", Outcome: task.ProfileOK, Artifact: &task.Artifact{URL: "s3://b"},
		}, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(updated.Status).To(Equal(task.StatusCompleted))
	})

	It("reaches PARTIAL when some profiles succeed and some fail", func() {
		t := newTestTask("t6", "p1", "p2")
		Expect(store.Create(context.Background(), t)).To(Succeed())

		_, _, err := store.ApplyPartial(context.Background(), task.ProfileResult{
			TaskID: "t6", ProfileID: "p1", Outcome: task.ProfileOK, Artifact: &task.Artifact{URL: "s3://a"},
		}, 3)
		Expect(err).NotTo(HaveOccurred())

		updated, _, err := store.ApplyPartial(context.Background(), task.ProfileResult{
			TaskID: "t6", ProfileID: "p2", Outcome: task.ProfileErr, Reason: "bad codec", Retryable: false,
		}, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(updated.Status).To(Equal(task.StatusPartial))
	})

	It("treats a result for an already-terminal task as a duplicate", func() {
		t := newTestTask("t7", "p1")
		t.Status = task.StatusCompleted
		Expect(store.Create(context.Background(), t)).To(Succeed())

		_, action, err := store.ApplyPartial(context.Background(), task.ProfileResult{
			TaskID: "t7", ProfileID: "p1", Outcome: task.ProfileOK, Artifact: &task.Artifact{URL: "s3://a"},
		}, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(task.MergeDuplicate))
	})
})

var _ = Describe("ApplyFaceResult", func() {
	var store *buntstore.Store

	BeforeEach(func() {
		var err error
		store, err = buntstore.Open(":memory:")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	It("waits for the face stage before declaring COMPLETED", func() {
		t := newTestTask("f1", "p1")
		t.FaceDetection.Stage = task.FacePending
		Expect(store.Create(context.Background(), t)).To(Succeed())

		updated, action, err := store.ApplyPartial(context.Background(), task.ProfileResult{
			TaskID: "f1", ProfileID: "p1", Outcome: task.ProfileOK, Artifact: &task.Artifact{URL: "s3://a"},
		}, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(task.MergeApplied))
		Expect(updated.Status).To(Equal(task.StatusProcessing))

		final, action, err := store.ApplyFaceResult(context.Background(), task.FaceResult{
			TaskID: "f1", Outcome: task.FaceOK, Faces: []task.Face{{GroupIndex: 0}},
		}, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(task.MergeApplied))
		Expect(final.Status).To(Equal(task.StatusCompleted))
		Expect(final.FaceDetection.Stage).To(Equal(task.FaceCompleted))
	})

	It("discards a face result once the face stage is no longer pending", func() {
		t := newTestTask("f2", "p1")
		t.FaceDetection.Stage = task.FaceCompleted
		Expect(store.Create(context.Background(), t)).To(Succeed())

		_, action, err := store.ApplyFaceResult(context.Background(), task.FaceResult{
			TaskID: "f2", Outcome: task.FaceOK,
		}, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(action).To(Equal(task.MergeDuplicate))
	})
})
