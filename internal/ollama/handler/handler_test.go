package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"beatframe/internal/ollama/handler/mocks"
	omodels "beatframe/internal/ollama/models"
	id "beatframe/pkg/domain"
	dErrors "beatframe/pkg/domain-errors"
	"beatframe/pkg/testutil"
)

type OllamaHandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	router  chi.Router
}

func TestOllamaHandlerSuite(t *testing.T) {
	suite.Run(t, new(OllamaHandlerSuite))
}

func (s *OllamaHandlerSuite) SetupTest() {
	s.service = mocks.NewMockService(gomock.NewController(s.T()))
	s.router = chi.NewRouter()
	New(s.service, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(s.router)
}

func (s *OllamaHandlerSuite) TestGenerate() {
	s.Run("returns the completion", func() {
		s.service.EXPECT().
			Generate(gomock.Any(), id.UserID("user-1"), omodels.GenerateRequest{Prompt: "write a hook"}).
			Return(&omodels.GenerateResponse{Model: "llama3", Response: "la la la", Done: true}, nil)

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/ollama/generate", map[string]string{"prompt": "write a hook"})
		rr := testutil.DoRequest(s.router, testutil.WithUserID(req, "user-1"))
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "response", "la la la")
	})

	s.Run("no ready pod", func() {
		s.service.EXPECT().Generate(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeUnavailable, "no pod is leased"))

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/ollama/generate", map[string]string{"prompt": "x"})
		rr := testutil.DoRequest(s.router, testutil.WithUserID(req, "user-1"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusServiceUnavailable, "unavailable")
	})

	s.Run("missing auth context", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/ollama/generate", map[string]string{"prompt": "x"})
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatusAndError(s.T(), rr, http.StatusInternalServerError, "internal_error")
	})

	s.Run("malformed body", func() {
		req := testutil.NewRequestWithBody(s.T(), http.MethodPost, "/api/ollama/generate", "not json")
		rr := testutil.DoRequest(s.router, testutil.WithUserID(req, "user-1"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})
}
