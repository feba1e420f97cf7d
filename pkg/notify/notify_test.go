package notify_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukex/procflow/pkg/mocks"
	"github.com/dukex/procflow/pkg/notify"
	"github.com/dukex/procflow/pkg/protocol"
	"github.com/dukex/procflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var sample = protocol.Notification{
	CompanyID:  "acme",
	InstanceID: "inst-1",
	Channel:    "email",
	To:         "alice@example.com",
	Subject:    "Approved",
	Body:       "Approved by manager-7",
}

func TestWebhook_Notify(t *testing.T) {
	var received protocol.Notification

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	require.NoError(t, notify.NewWebhook(server.URL, 0).Notify(t.Context(), sample))
	assert.Equal(t, sample, received)
}

func TestWebhook_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := notify.NewWebhook(server.URL, 0).Notify(t.Context(), sample)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestRouter(t *testing.T) {
	email := &mocks.MockNotifier{}
	email.On("Notify", mock.Anything, mock.Anything).Return(nil)

	fallback := &mocks.MockNotifier{}
	fallback.On("Notify", mock.Anything, mock.Anything).Return(nil)

	router := notify.NewRouter(fallback)
	router.Route("email", email)

	require.NoError(t, router.Notify(t.Context(), sample))

	sms := sample
	sms.Channel = "sms"
	require.NoError(t, router.Notify(t.Context(), sms))

	email.AssertNumberOfCalls(t, "Notify", 1)
	fallback.AssertCalled(t, "Notify", mock.Anything, sms)

	bare := notify.NewRouter(nil)
	assert.Error(t, bare.Notify(t.Context(), sms))
}

func TestLog_Notify(t *testing.T) {
	assert.NoError(t, notify.NewLog(testutil.Logger()).Notify(t.Context(), sample))
}
