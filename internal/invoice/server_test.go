package invoice

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Server", func() {
	var (
		ocr         *mockOCR
		store       *mockStore
		explainer   *mockExplainer
		storage     *mockStorage
		config      Config
		opts        ServerOptions
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		ocr = &mockOCR{text: sampleBill}
		store = &mockStore{}
		explainer = &mockExplainer{text: "Your bill produced 27.96 kg CO2."}
		storage = newMockStorage()
		config = Config{}
		opts = ServerOptions{Version: "1.2.3"}
	})

	JustBeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		service := NewServiceWithDeps(ocr, store, explainer, storage, config, fixedIDGenerator{id: "upload-1"}, logger)
		server := NewServerWithMux(service, opts, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	upload := func(field, filename string, content []byte) (*http.Response, error) {
		var b bytes.Buffer
		writer := multipart.NewWriter(&b)
		part, err := writer.CreateFormFile(field, filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(content)
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())
		return http.Post(ghttpServer.URL()+"/process", writer.FormDataContentType(), &b)
	}

	decode := func(resp *http.Response, v any) {
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(body, v)).To(Succeed())
	}

	Describe("POST /process", func() {
		When("processing succeeds", func() {
			It("should return the full result", func() {
				resp, err := upload("file", "bill.png", []byte("image bytes"))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var body map[string]any
				decode(resp, &body)
				Expect(body).To(HaveKey("raw_text"))
				Expect(body).To(HaveKey("fields"))
				Expect(body).To(HaveKey("emissions"))
				Expect(body).To(HaveKey("history"))
				Expect(body).To(HaveKey("forecast"))
				Expect(body).To(HaveKeyWithValue("explanation", "Your bill produced 27.96 kg CO2."))
				Expect(body["fields"]).To(HaveKeyWithValue("energy_kwh", 120.0))
				Expect(body["fields"]).To(HaveKeyWithValue("water_gallons", BeNil()))
				Expect(body["emissions"]).To(HaveKeyWithValue("total_kgco2", 27.96))
				Expect(body["forecast"]).To(HaveKeyWithValue("predicted_kgco2", BeNil()))
				Expect(body["history"]).To(HaveLen(1))
			})

			It("should infer the content type from the extension", func() {
				var b bytes.Buffer
				writer := multipart.NewWriter(&b)
				h := make(textproto.MIMEHeader)
				h.Set("Content-Disposition", `form-data; name="file"; filename="bill.pdf"`)
				part, err := writer.CreatePart(h)
				Expect(err).NotTo(HaveOccurred())
				_, err = part.Write([]byte("%PDF-1.4"))
				Expect(err).NotTo(HaveOccurred())
				Expect(writer.Close()).To(Succeed())

				resp, err := http.Post(ghttpServer.URL()+"/process", writer.FormDataContentType(), &b)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(ocr.contentType).To(Equal("application/pdf"))
			})
		})

		When("the file field is missing", func() {
			It("should return Bad Request", func() {
				resp, err := upload("document", "bill.png", []byte("image bytes"))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

				var body map[string]string
				decode(resp, &body)
				Expect(body["error"]).To(ContainSubstring("No file was selected"))
			})
		})

		When("the form is not multipart", func() {
			It("should return Bad Request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/process", "multipart/form-data", bytes.NewBufferString("invalid"))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("the uploaded file is empty", func() {
			It("should return Bad Request", func() {
				resp, err := upload("file", "bill.png", nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("OCR fails", func() {
			BeforeEach(func() {
				ocr.err = errors.New("tesseract not installed")
			})

			It("should return a JSON error with Internal Server Error", func() {
				resp, err := upload("file", "bill.png", []byte("image bytes"))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))

				var body map[string]string
				decode(resp, &body)
				Expect(body["error"]).To(ContainSubstring("tesseract not installed"))
			})
		})

		When("the store fails", func() {
			BeforeEach(func() {
				store.putErr = errors.New("connection refused")
			})

			It("should return Internal Server Error", func() {
				resp, err := upload("file", "bill.png", []byte("image bytes"))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				resp.Body.Close()
			})
		})

		When("the explanation fails", func() {
			BeforeEach(func() {
				explainer.err = errors.New("model not found")
			})

			It("should return Bad Gateway", func() {
				resp, err := upload("file", "bill.png", []byte("image bytes"))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				resp.Body.Close()
			})

			When("explanations are optional", func() {
				BeforeEach(func() {
					config.ExplainOptional = true
				})

				It("should return the result with a null explanation", func() {
					resp, err := upload("file", "bill.png", []byte("image bytes"))
					Expect(err).NotTo(HaveOccurred())
					Expect(resp.StatusCode).To(Equal(http.StatusOK))

					var body map[string]any
					decode(resp, &body)
					Expect(body).To(HaveKeyWithValue("explanation", BeNil()))
				})
			})
		})
	})

	Describe("GET /v1/models", func() {
		It("should return an empty model list", func() {
			resp, err := http.Get(ghttpServer.URL() + "/v1/models")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(MatchJSON(`{"data": []}`))
		})
	})

	Describe("GET /healthz", func() {
		It("should report the version", func() {
			resp, err := http.Get(ghttpServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var body map[string]string
			decode(resp, &body)
			Expect(body).To(Equal(map[string]string{"status": "ok", "version": "1.2.3"}))
		})
	})

	Describe("GET /api/history", func() {
		BeforeEach(func() {
			store.seed("2024-01-01", 10)
			store.seed("2024-01-11", 20)
		})

		It("should return the most recent entries first", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/history")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var body []map[string]any
			decode(resp, &body)
			Expect(body).To(HaveLen(2))
			Expect(body[0]).To(HaveKeyWithValue("id", "seed-002"))
			Expect(store.lastLimit).To(Equal(DefaultHistoryLimit))
		})

		It("should honour the limit", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/history?limit=1")
			Expect(err).NotTo(HaveOccurred())
			var body []map[string]any
			decode(resp, &body)
			Expect(body).To(HaveLen(1))
		})

		It("should reject an invalid limit", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/history?limit=abc")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})

		When("the store fails", func() {
			BeforeEach(func() {
				store.listErr = errors.New("timeout")
			})

			It("should return Internal Server Error", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/history")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				resp.Body.Close()
			})
		})
	})

	Describe("GET /api/history/{id}", func() {
		BeforeEach(func() {
			store.seed("2024-01-01", 10)
		})

		It("should return the entry", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/history/seed-001")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var body map[string]any
			decode(resp, &body)
			Expect(body).To(HaveKeyWithValue("id", "seed-001"))
		})

		It("should return Not Found for unknown ids", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/history/missing")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})
	})

	Describe("GET /api/forecast", func() {
		BeforeEach(func() {
			store.seed("2024-01-01", 10)
			store.seed("2024-01-11", 20)
			store.seed("2024-01-21", 30)
		})

		It("should return the prediction", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/forecast")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(MatchJSON(`{"predicted_kgco2": 40}`))
		})
	})

	Describe("GET /api/documents/{name}", func() {
		BeforeEach(func() {
			storage.files["upload-1_bill.png"] = []byte("png bytes")
		})

		It("should serve the archived document", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/documents/upload-1_bill.png")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("png bytes"))
		})

		It("should return Not Found for unknown documents", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/documents/missing.png")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/process", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("should set headers on normal responses", func() {
			resp, err := http.Get(ghttpServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			opts.BasicAuth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("should reject requests without credentials", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/history")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("should reject wrong credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/history", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "wrong")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should accept valid credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/history", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "secret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should leave the health check open", func() {
			resp, err := http.Get(ghttpServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
