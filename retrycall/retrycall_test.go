package retrycall

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neelabh-labs/agentcore"
)

type fakeProvider struct {
	mu      sync.Mutex
	calls   []agentcore.ProviderID
	scripts map[agentcore.ProviderID][]error
}

func (f *fakeProvider) Call(ctx context.Context, provider agentcore.ProviderID, prompt, model string, credential *string) (agentcore.ProviderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, provider)

	script := f.scripts[provider]
	idx := 0
	for _, c := range f.calls {
		if c == provider {
			idx++
		}
	}
	if idx-1 < len(script) {
		if err := script[idx-1]; err != nil {
			return agentcore.ProviderResponse{}, err
		}
	}
	return agentcore.ProviderResponse{Content: "ok"}, nil
}

func transientErr() error {
	return fmt.Errorf("rate limited: %w", agentcore.ErrTransientProvider)
}

func terminalErr() error {
	return fmt.Errorf("invalid api key: %w", agentcore.ErrTerminalProvider)
}

func cfgFastRetries() *agentcore.Config {
	cfg := agentcore.DefaultConfig()
	cfg.MaxRetries = 2
	cfg.RetryBaseDelay = 1
	return cfg
}

func TestCall_SucceedsOnFirstAttempt(t *testing.T) {
	fp := &fakeProvider{}
	c := New(fp, nil, cfgFastRetries())

	resp, err := c.Call(context.Background(), []agentcore.ProviderID{agentcore.ProviderOpenAI}, "hi", "gpt", nil, nil)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, agentcore.ProviderOpenAI, resp.UsedProvider)
	assert.Equal(t, 1, resp.Attempts)
}

func TestCall_RetriesTransientThenSucceeds(t *testing.T) {
	fp := &fakeProvider{scripts: map[agentcore.ProviderID][]error{
		agentcore.ProviderOpenAI: {transientErr()},
	}}
	c := New(fp, nil, cfgFastRetries())

	resp, err := c.Call(context.Background(), []agentcore.ProviderID{agentcore.ProviderOpenAI}, "hi", "gpt", nil, nil)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Attempts)
}

func TestCall_TerminalErrorAdvancesChainImmediately(t *testing.T) {
	fp := &fakeProvider{scripts: map[agentcore.ProviderID][]error{
		agentcore.ProviderOpenAI: {terminalErr(), terminalErr()},
	}}
	var events []AttemptEvent
	c := New(fp, nil, cfgFastRetries())

	resp, err := c.Call(context.Background(),
		[]agentcore.ProviderID{agentcore.ProviderOpenAI, agentcore.ProviderAnthropic},
		"hi", "gpt", nil,
		func(e AttemptEvent) { events = append(events, e) })

	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, agentcore.ProviderAnthropic, resp.UsedProvider)
	require.Len(t, events, 1, "terminal error should advance after a single attempt")
	assert.True(t, events[0].WillAdvance)
}

func TestCall_ExhaustsRetriesThenAdvances(t *testing.T) {
	fp := &fakeProvider{scripts: map[agentcore.ProviderID][]error{
		agentcore.ProviderOpenAI: {transientErr(), transientErr()},
	}}
	c := New(fp, nil, cfgFastRetries())

	resp, err := c.Call(context.Background(),
		[]agentcore.ProviderID{agentcore.ProviderOpenAI, agentcore.ProviderAnthropic},
		"hi", "gpt", nil, nil)

	require.NoError(t, err)
	assert.Equal(t, agentcore.ProviderAnthropic, resp.UsedProvider)
}

func TestCall_AllProvidersExhausted(t *testing.T) {
	fp := &fakeProvider{scripts: map[agentcore.ProviderID][]error{
		agentcore.ProviderOpenAI:    {transientErr(), transientErr()},
		agentcore.ProviderAnthropic: {terminalErr()},
	}}
	c := New(fp, nil, cfgFastRetries())

	resp, err := c.Call(context.Background(),
		[]agentcore.ProviderID{agentcore.ProviderOpenAI, agentcore.ProviderAnthropic},
		"hi", "gpt", nil, nil)

	require.Error(t, err)
	assert.False(t, resp.Success)
}

func TestCall_OnResultCallbackInvokedPerAttempt(t *testing.T) {
	fp := &fakeProvider{scripts: map[agentcore.ProviderID][]error{
		agentcore.ProviderOpenAI: {transientErr()},
	}}
	var mu sync.Mutex
	var results []bool
	c := New(fp, func(id agentcore.ProviderID, success bool, _ time.Time) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, success)
	}, cfgFastRetries())

	_, err := c.Call(context.Background(), []agentcore.ProviderID{agentcore.ProviderOpenAI}, "hi", "gpt", nil, nil)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 2)
	assert.False(t, results[0])
	assert.True(t, results[1])
}
