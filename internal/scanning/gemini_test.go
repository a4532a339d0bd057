package scanning

import (
	"github.com/google/generative-ai-go/genai"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Gemini", func() {
	Describe("NewGemini", func() {
		It("should require an api key", func() {
			_, err := NewGemini("", "")
			Expect(err).To(MatchError(ContainSubstring("api key")))
		})
	})

	Describe("geminiAnswer", func() {
		It("should join the text parts of the first candidate", func() {
			resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"shop": `), genai.Text(`"IKEA"}`)}},
			}}}
			answer, err := geminiAnswer(resp)
			Expect(err).NotTo(HaveOccurred())
			Expect(answer).To(Equal(`{"shop": "IKEA"}`))
		})

		It("should fail without candidates", func() {
			_, err := geminiAnswer(&genai.GenerateContentResponse{})
			Expect(err).To(HaveOccurred())
		})

		It("should report the finish reason when no text came back", func() {
			resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
				Content:      &genai.Content{},
				FinishReason: genai.FinishReasonSafety,
			}}}
			_, err := geminiAnswer(resp)
			Expect(err).To(MatchError(ContainSubstring("FinishReasonSafety")))
		})
	})
})
