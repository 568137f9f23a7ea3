package e2e_test

import (
	"context"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/quizmentor-ai/quizmentor/citest/testutil"
	"github.com/quizmentor-ai/quizmentor/pkg/types"
)

var _ = Describe("Stream relay", func() {
	var client *testutil.Client

	BeforeEach(func() {
		client = testutil.NewClient(testServer.BaseURL, "student-1")
	})

	Describe("starting and polling a stream", func() {
		It("streams a complete explanation through cursor polling", func() {
			id, status, err := client.StartStream(types.StartStreamRequest{
				SubjectID:      "bio-101-q7",
				SelectedAnswer: "Mitochondria",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(http.StatusOK))
			Expect(id).NotTo(BeEmpty())

			resp, err := client.PollUntilDone(id, 10*time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Error).To(BeEmpty())
			Expect(resp.Content).To(ContainSubstring("Good try!"))
			Expect(resp.ConversationHistory).NotTo(BeEmpty())
			Expect(resp.ConversationHistory[0].Role).To(Equal(types.RoleSystem))
			Expect(resp.ConversationHistory[0].Content).To(ContainSubstring("photosynthesis"))
		})

		It("sends the rendered system context upstream", func() {
			before := len(testServer.LLM.Requests())

			id, _, err := client.StartStream(types.StartStreamRequest{
				SubjectID:      "bio-101-q7",
				SelectedAnswer: "Chloroplasts",
			})
			Expect(err).NotTo(HaveOccurred())
			_, err = client.PollUntilDone(id, 10*time.Second)
			Expect(err).NotTo(HaveOccurred())

			requests := testServer.LLM.Requests()
			Expect(len(requests)).To(BeNumerically(">", before))
			last := requests[len(requests)-1]
			Expect(last.Messages[0]["role"]).To(Equal("system"))
			Expect(last.Messages[0]["content"]).To(ContainSubstring("Chloroplasts convert light"))
		})

		It("rejects requests without a requester identity", func() {
			anon := testutil.NewClient(testServer.BaseURL, "")
			_, status, err := anon.StartStream(types.StartStreamRequest{
				SubjectID:      "bio-101-q7",
				SelectedAnswer: "A",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(http.StatusBadRequest))
		})

		It("returns 404 for unknown stream ids", func() {
			_, status, err := client.Poll("does-not-exist", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(http.StatusNotFound))
		})
	})

	Describe("aborting a stream", func() {
		It("freezes the buffer once aborted", func() {
			testServer.LLM.SetChunkInterval(30 * time.Millisecond)
			defer testServer.LLM.SetChunkInterval(0)

			id, _, err := client.StartStream(types.StartStreamRequest{
				SubjectID:      "bio-101-q7",
				SelectedAnswer: "slow",
				UserMessage:    "slow",
			})
			Expect(err).NotTo(HaveOccurred())

			// Let a few chunks land before aborting.
			time.Sleep(150 * time.Millisecond)
			status, err := client.Abort(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(http.StatusOK))

			resp, _, err := client.Poll(id, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Done).To(BeTrue())
			Expect(resp.Error).To(Equal("Stream aborted."))

			frozen := resp.Content
			Consistently(func() string {
				resp, _, _ := client.Poll(id, 0)
				return resp.Content
			}, 300*time.Millisecond, 50*time.Millisecond).Should(Equal(frozen))
		})

		It("refuses aborts from a different requester", func() {
			id, _, err := client.StartStream(types.StartStreamRequest{
				SubjectID:      "bio-101-q7",
				SelectedAnswer: "B",
			})
			Expect(err).NotTo(HaveOccurred())

			intruder := testutil.NewClient(testServer.BaseURL, "student-2")
			status, err := intruder.Abort(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(http.StatusForbidden))
		})

		It("treats aborting a finished stream as a no-op success", func() {
			id, _, err := client.StartStream(types.StartStreamRequest{
				SubjectID:      "bio-101-q7",
				SelectedAnswer: "C",
			})
			Expect(err).NotTo(HaveOccurred())
			_, err = client.PollUntilDone(id, 10*time.Second)
			Expect(err).NotTo(HaveOccurred())

			status, err := client.Abort(id)
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(http.StatusOK))
		})
	})

	Describe("duplicate starts", func() {
		It("supersedes the older stream for the same subject", func() {
			testServer.LLM.SetChunkInterval(30 * time.Millisecond)
			defer testServer.LLM.SetChunkInterval(0)

			first, _, err := client.StartStream(types.StartStreamRequest{
				SubjectID:      "bio-101-q7",
				SelectedAnswer: "slow",
				UserMessage:    "slow",
			})
			Expect(err).NotTo(HaveOccurred())

			second, _, err := client.StartStream(types.StartStreamRequest{
				SubjectID:      "bio-101-q7",
				SelectedAnswer: "slow",
				UserMessage:    "slow",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(second).NotTo(Equal(first))

			resp, _, err := client.Poll(first, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Done).To(BeTrue())
			Expect(resp.Error).To(Equal("New stream started."))

			// The replacement stream still completes normally.
			final, err := client.PollUntilDone(second, 10*time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(final.Error).To(BeEmpty())
		})
	})

	Describe("upstream failures", func() {
		It("reports a user-safe error when the provider is down", func() {
			testServer.LLM.SetFailStatus(http.StatusServiceUnavailable)
			defer testServer.LLM.SetFailStatus(0)

			id, _, err := client.StartStream(types.StartStreamRequest{
				SubjectID:      "bio-101-q7",
				SelectedAnswer: "A",
			})
			Expect(err).NotTo(HaveOccurred())

			resp, err := client.PollUntilDone(id, 10*time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Error).To(Equal("Something went wrong while generating the response."))
			Expect(resp.ConversationHistory).To(BeEmpty())
		})
	})

	Describe("interaction persistence", func() {
		It("records the finished exchange", func() {
			recorder := testutil.NewClient(testServer.BaseURL, "student-logged")
			id, _, err := recorder.StartStream(types.StartStreamRequest{
				SubjectID:      "bio-101-q7",
				SelectedAnswer: "Chloroplasts",
			})
			Expect(err).NotTo(HaveOccurred())
			final, err := recorder.PollUntilDone(id, 10*time.Second)
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() int {
				records, _ := testServer.Interactions.List(context.Background(), "student-logged")
				return len(records)
			}, 3*time.Second, 50*time.Millisecond).Should(Equal(1))

			records, err := testServer.Interactions.List(context.Background(), "student-logged")
			Expect(err).NotTo(HaveOccurred())
			Expect(records[0].AIResponse).To(Equal(final.Content))
			Expect(records[0].Model).To(Equal("mock-tutor"))
		})
	})
})
