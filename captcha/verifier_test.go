package captcha

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"botguard/core"
	"botguard/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubProviderClient returns a canned result or error
type stubProviderClient struct {
	result *ProviderResult
	err    error
	calls  int
}

func (s *stubProviderClient) Verify(ctx context.Context, provider core.CaptchaProvider, secret, token, remoteIP string) (*ProviderResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func boolPtr(b bool) *bool        { return &b }
func floatPtr(f float64) *float64 { return &f }

func enabledConfig() *core.CaptchaConfig {
	cfg := core.DefaultCaptchaConfig()
	cfg.Enabled = true
	cfg.Provider = core.ProviderRecaptcha
	cfg.SiteKeys[core.ProviderRecaptcha] = core.SiteKeys{SiteKey: "sk", SecretKey: "secret"}
	return cfg
}

func TestVerifier_DisabledAlwaysVerifies(t *testing.T) {
	client := &stubProviderClient{}
	v := NewVerifier(core.DefaultCaptchaConfig(), client, nil, zap.NewNop().Sugar())

	result := v.Verify(context.Background(), "token", "", nil)

	assert.True(t, result.Verified)
	assert.Equal(t, OutcomeDisabled, result.Outcome)
	assert.Zero(t, client.calls, "disabled config must not call the provider")
}

func TestVerifier_ExcludedIPSkipsProvider(t *testing.T) {
	cfg := enabledConfig()
	cfg.ExcludedIPs = []string{"10.0.0.1"}
	client := &stubProviderClient{}
	v := NewVerifier(cfg, client, nil, zap.NewNop().Sugar())

	result := v.Verify(context.Background(), "token", "", core.RequestContext{"ip": "10.0.0.1"})

	assert.True(t, result.Verified)
	assert.Equal(t, OutcomeExcluded, result.Outcome)
	assert.Zero(t, client.calls)
}

func TestVerifier_ProviderBooleanIsAuthoritative(t *testing.T) {
	cfg := enabledConfig()
	cfg.ScoreThreshold = 0.5

	// Provider says not human despite a high score
	client := &stubProviderClient{result: &ProviderResult{Success: boolPtr(false), Score: floatPtr(0.9)}}
	v := NewVerifier(cfg, client, nil, zap.NewNop().Sugar())

	result := v.Verify(context.Background(), "token", "", nil)
	assert.False(t, result.Verified)
	assert.Equal(t, OutcomeFailed, result.Outcome)
}

func TestVerifier_ScoreThresholdWhenNoBoolean(t *testing.T) {
	cfg := enabledConfig()
	cfg.ScoreThreshold = 0.5
	v := NewVerifier(cfg, &stubProviderClient{result: &ProviderResult{Score: floatPtr(0.6)}}, nil, zap.NewNop().Sugar())

	result := v.Verify(context.Background(), "token", "", nil)
	assert.True(t, result.Verified)
	assert.Equal(t, OutcomeVerified, result.Outcome)

	v2 := NewVerifier(cfg, &stubProviderClient{result: &ProviderResult{Score: floatPtr(0.4)}}, nil, zap.NewNop().Sugar())
	result = v2.Verify(context.Background(), "token", "", nil)
	assert.False(t, result.Verified)
}

func TestVerifier_NoSignalMeansNotVerified(t *testing.T) {
	v := NewVerifier(enabledConfig(), &stubProviderClient{result: &ProviderResult{}}, nil, zap.NewNop().Sugar())
	result := v.Verify(context.Background(), "token", "", nil)
	assert.False(t, result.Verified)
}

func TestVerifier_ProviderErrorFailClosed(t *testing.T) {
	cfg := enabledConfig()
	cfg.FailurePolicy = core.FailClosed
	v := NewVerifier(cfg, &stubProviderClient{err: errors.New("timeout")}, nil, zap.NewNop().Sugar())

	result := v.Verify(context.Background(), "token", "", nil)
	assert.False(t, result.Verified)
	assert.Equal(t, OutcomeProviderError, result.Outcome)
}

func TestVerifier_ProviderErrorFailOpen(t *testing.T) {
	cfg := enabledConfig()
	cfg.FailurePolicy = core.FailOpen
	v := NewVerifier(cfg, &stubProviderClient{err: errors.New("timeout")}, nil, zap.NewNop().Sugar())

	result := v.Verify(context.Background(), "token", "", nil)
	assert.True(t, result.Verified)
	assert.Equal(t, OutcomeProviderError, result.Outcome)
}

func TestVerifier_MissingSecretTreatedAsProviderFailure(t *testing.T) {
	cfg := enabledConfig()
	cfg.SiteKeys = map[core.CaptchaProvider]core.SiteKeys{}
	client := &stubProviderClient{}
	v := NewVerifier(cfg, client, nil, zap.NewNop().Sugar())

	result := v.Verify(context.Background(), "token", "", nil)
	assert.False(t, result.Verified)
	assert.Equal(t, OutcomeProviderError, result.Outcome)
	assert.Zero(t, client.calls)
}

func TestVerifier_StatsOnlineMean(t *testing.T) {
	cfg := enabledConfig()
	v := NewVerifier(cfg, &stubProviderClient{result: &ProviderResult{Success: boolPtr(true), Score: floatPtr(0.8)}}, nil, zap.NewNop().Sugar())
	v.Verify(context.Background(), "t1", "", nil)

	// Swap the stub so the second verification carries a different score
	v.client = &stubProviderClient{result: &ProviderResult{Success: boolPtr(false), Score: floatPtr(0.2)}}
	v.Verify(context.Background(), "t2", "", nil)

	stats := v.Stats()
	assert.Equal(t, uint64(2), stats.TotalVerifications)
	assert.Equal(t, uint64(1), stats.SuccessfulVerifications)
	assert.Equal(t, uint64(1), stats.FailedVerifications)
	assert.InDelta(t, 0.5, stats.AverageScore, 1e-9)
}

func TestVerifier_ProviderErrorCountsAsFailedInStats(t *testing.T) {
	cfg := enabledConfig()
	cfg.FailurePolicy = core.FailClosed
	v := NewVerifier(cfg, &stubProviderClient{err: errors.New("down")}, nil, zap.NewNop().Sugar())

	v.Verify(context.Background(), "token", "", nil)

	stats := v.Stats()
	assert.Equal(t, uint64(1), stats.TotalVerifications)
	assert.Equal(t, uint64(1), stats.FailedVerifications)
	assert.Equal(t, float64(0), stats.AverageScore, "scoreless outcomes must not move the mean")
}

func TestVerifier_SetStatsRestoresPersistedCounters(t *testing.T) {
	v := NewVerifier(enabledConfig(), &stubProviderClient{result: &ProviderResult{Success: boolPtr(true)}}, nil, zap.NewNop().Sugar())
	v.SetStats(core.VerificationStats{TotalVerifications: 10, SuccessfulVerifications: 7, FailedVerifications: 3, AverageScore: 0.6})

	v.Verify(context.Background(), "token", "", nil)

	stats := v.Stats()
	assert.Equal(t, uint64(11), stats.TotalVerifications)
	assert.Equal(t, uint64(8), stats.SuccessfulVerifications)
}

func TestVerifier_PublishFailureNeverFailsVerification(t *testing.T) {
	broadcaster := notify.NewMockBroadcaster()
	broadcaster.SetShouldFail(true)

	v := NewVerifier(enabledConfig(), &stubProviderClient{result: &ProviderResult{Success: boolPtr(true)}}, broadcaster, zap.NewNop().Sugar())
	result := v.Verify(context.Background(), "token", "", nil)
	assert.True(t, result.Verified)
}

func TestVerifier_ChallengeEventPublished(t *testing.T) {
	broadcaster := notify.NewMockBroadcaster()
	v := NewVerifier(enabledConfig(), &stubProviderClient{result: &ProviderResult{Success: boolPtr(true), Score: floatPtr(0.9)}}, broadcaster, zap.NewNop().Sugar())

	v.Verify(context.Background(), "token", "", core.RequestContext{"ip": "9.9.9.9"})

	events := broadcaster.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notify.EventChallenge, events[0].Type)
	assert.Equal(t, "9.9.9.9", events[0].IP)
	require.NotNil(t, events[0].Verified)
	assert.True(t, *events[0].Verified)
}

func TestVerifier_ConcurrentVerifyAndConfigSwap(t *testing.T) {
	v := NewVerifier(enabledConfig(), &stubProviderClient{result: &ProviderResult{Success: boolPtr(true)}}, nil, zap.NewNop().Sugar())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				cfg := enabledConfig()
				cfg.ScoreThreshold = 0.7
				v.SetConfig(cfg)
			}
		}
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				v.Verify(context.Background(), "token", "", nil)
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(stop)
	wg.Wait()

	assert.Equal(t, uint64(2000), v.Stats().TotalVerifications)
}

func TestHTTPProviderClient_ParsesVendorResponses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "secret", r.Form.Get("secret"))
		assert.Equal(t, "token", r.Form.Get("response"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success": true, "score": 0.9}`))
	}))
	defer server.Close()

	client := &HTTPProviderClient{
		client:    server.Client(),
		endpoints: map[core.CaptchaProvider]string{core.ProviderRecaptcha: server.URL},
	}

	result, err := client.Verify(context.Background(), core.ProviderRecaptcha, "secret", "token", "1.2.3.4")
	require.NoError(t, err)
	require.NotNil(t, result.Success)
	assert.True(t, *result.Success)
	require.NotNil(t, result.Score)
	assert.Equal(t, 0.9, *result.Score)
}

func TestHTTPProviderClient_IsHumanAlias(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"isHuman": true}`))
	}))
	defer server.Close()

	client := &HTTPProviderClient{
		client:    server.Client(),
		endpoints: map[core.CaptchaProvider]string{core.ProviderHCaptcha: server.URL},
	}

	result, err := client.Verify(context.Background(), core.ProviderHCaptcha, "s", "t", "")
	require.NoError(t, err)
	require.NotNil(t, result.Success)
	assert.True(t, *result.Success)
}

func TestHTTPProviderClient_Non200IsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := &HTTPProviderClient{
		client:    server.Client(),
		endpoints: map[core.CaptchaProvider]string{core.ProviderRecaptcha: server.URL},
	}

	_, err := client.Verify(context.Background(), core.ProviderRecaptcha, "s", "t", "")
	assert.Error(t, err)
}

func TestHTTPProviderClient_UnknownProvider(t *testing.T) {
	client := NewHTTPProviderClient()
	_, err := client.Verify(context.Background(), "akismet", "s", "t", "")
	assert.Error(t, err)
}
