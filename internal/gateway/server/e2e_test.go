package server_test

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Media gateway", func() {
	var env *gatewayEnv

	AfterEach(func() {
		if env != nil {
			env.stop()
			env = nil
		}
	})

	Context("still images", func() {
		BeforeEach(func() {
			env = startGateway(envOptions{})
		})

		It("renders on first request and serves the cache afterwards", func() {
			first := env.get("/Twibbon.png?name=Ada")
			Expect(first.Status).To(Equal(200))
			Expect(first.ContentType).To(Equal("image/png"))
			Expect(first.CacheStatus).To(Equal("MISS"))
			Expect(string(first.Body)).To(Equal(`still:Twibbon:--props={"name":"Ada"}`))

			second := env.get("/Twibbon.png?name=Ada")
			Expect(second.Status).To(Equal(200))
			Expect(second.CacheStatus).To(Equal("HIT"))
			Expect(second.Body).To(Equal(first.Body))

			Expect(env.renders()).To(Equal(1))
			Expect(env.filesIn(env.staging.StagingDir())).To(BeEmpty())
		})

		It("treats jpg and jpeg as the same artifact", func() {
			Expect(env.get("/Twibbon.jpg?name=Ada").CacheStatus).To(Equal("MISS"))

			jpeg := env.get("/Twibbon.jpeg?name=Ada")
			Expect(jpeg.ContentType).To(Equal("image/jpeg"))
			Expect(jpeg.CacheStatus).To(Equal("HIT"))
			Expect(env.renders()).To(Equal(1))
		})

		It("renders again when any prop changes", func() {
			env.get("/Twibbon.png?name=Ada")
			env.get("/Twibbon.png?name=Grace")
			env.get("/Twibbon.png?name=Ada&size=2")
			Expect(env.renders()).To(Equal(3))
		})

		It("rejects unknown compositions without rendering", func() {
			resp := env.get("/Missing.png")
			Expect(resp.Status).To(Equal(400))
			Expect(resp.Message).To(ContainSubstring("No composition called Missing"))
			Expect(env.renders()).To(Equal(0))
		})

		It("reports engine failures and caches nothing", func() {
			resp := env.get("/Broken.png")
			Expect(resp.Status).To(Equal(500))
			Expect(resp.Message).To(ContainSubstring("Render failed"))

			again := env.get("/Broken.png")
			Expect(again.Status).To(Equal(500))
			Expect(env.renders()).To(Equal(2))
			Expect(env.filesIn(env.staging.StagingDir())).To(BeEmpty())
		})

		It("rejects unsupported formats", func() {
			Expect(env.get("/Twibbon.gif").Status).To(Equal(400))
			Expect(env.renders()).To(Equal(0))
		})
	})

	Context("concurrent identical requests", func() {
		BeforeEach(func() {
			env = startGateway(envOptions{renderDelay: "0.5"})
		})

		It("renders once and shares the result", func() {
			const clients = 10
			results := make([]*response, clients)

			var wg sync.WaitGroup
			for i := 0; i < clients; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					defer GinkgoRecover()
					results[i] = env.get("/Twibbon.png?name=Crowd")
				}(i)
			}
			wg.Wait()

			statuses := map[string]int{}
			for _, r := range results {
				Expect(r.Status).To(Equal(200))
				Expect(r.Body).To(Equal(results[0].Body))
				statuses[r.CacheStatus]++
			}
			Expect(statuses["MISS"]).To(Equal(1))
			Expect(statuses["SHARED"] + statuses["HIT"]).To(Equal(clients - 1))
			Expect(env.renders()).To(Equal(1))
		})
	})

	Context("videos with uploaded assets", func() {
		BeforeEach(func() {
			env = startGateway(envOptions{})
		})

		It("keys renders on the uploaded content", func() {
			a := env.upload("/Overlay.mp4?title=Hi", "a.png", []byte("asset-A"))
			Expect(a.Status).To(Equal(200))
			Expect(a.ContentType).To(Equal("video/mp4"))
			Expect(a.CacheStatus).To(Equal("MISS"))
			Expect(string(a.Body)).To(HavePrefix("render:Overlay:"))
			Expect(string(a.Body)).To(ContainSubstring(`"images":"`))

			b := env.upload("/Overlay.mp4?title=Hi", "b.png", []byte("asset-B"))
			Expect(b.Status).To(Equal(200))
			Expect(b.CacheStatus).To(Equal("MISS"))

			Expect(env.renders()).To(Equal(2))

			// Same bytes under a different name is the same artifact
			again := env.upload("/Overlay.mp4?title=Hi", "renamed.jpg", []byte("asset-A"))
			Expect(again.CacheStatus).To(Equal("HIT"))
			Expect(again.Body).To(Equal(a.Body))
			Expect(env.renders()).To(Equal(2))

			Expect(env.filesIn(env.staging.UploadsDir())).To(BeEmpty())
			Expect(env.filesIn(env.staging.StagingDir())).To(BeEmpty())
		})

		It("discards partial output and the upload when the engine fails midway", func() {
			resp := env.upload("/Truncated.mp4?title=Hi", "a.png", []byte("asset-A"))
			Expect(resp.Status).To(Equal(500))
			Expect(resp.Message).To(ContainSubstring("Render failed"))

			Expect(env.filesIn(env.staging.UploadsDir())).To(BeEmpty())
			Expect(env.filesIn(env.staging.StagingDir())).To(BeEmpty())
			stats, err := env.store.Stats()
			Expect(err).ToNot(HaveOccurred())
			Expect(stats.Entries).To(BeZero())

			again := env.upload("/Truncated.mp4?title=Hi", "a.png", []byte("asset-A"))
			Expect(again.Status).To(Equal(500))
			Expect(env.renders()).To(Equal(2))
		})

		It("requires an uploaded image", func() {
			resp := env.upload("/Overlay.mp4", "", nil)
			Expect(resp.Status).To(Equal(400))
			Expect(resp.Message).To(ContainSubstring("No image uploaded"))
			Expect(env.renders()).To(Equal(0))
		})

		It("cleans up the upload when the composition is unknown", func() {
			resp := env.upload("/Nope.mp4", "a.png", []byte("asset-A"))
			Expect(resp.Status).To(Equal(400))
			Expect(env.filesIn(env.staging.UploadsDir())).To(BeEmpty())
		})
	})

	Context("rate limiting", func() {
		BeforeEach(func() {
			env = startGateway(envOptions{rateLimit: 3})
		})

		It("rejects requests over the limit without rendering", func() {
			for i := 0; i < 3; i++ {
				Expect(env.get("/Twibbon.png?i=1").Status).To(Equal(200))
			}

			limited := env.get("/Twibbon.png?i=2")
			Expect(limited.Status).To(Equal(429))
			Expect(env.renders()).To(Equal(1))

			Expect(env.get("/health").Status).To(Equal(200))
		})
	})
})
