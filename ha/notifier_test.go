package ha

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gopkg.in/h2non/gock.v1"

	dhcpdata "isc.org/dhcp6d/datamodel"
	"isc.org/dhcp6d/dhcpcfg"
)

const testPartnerURL = "http://partner.example.org:8000"

// Creates a notifier talking to the test partner with the HTTP client
// intercepted by gock.
func newTestNotifier() *Notifier {
	notifier := NewNotifier(&dhcpcfg.HAConfig{PartnerURL: testPartnerURL})
	gock.InterceptClient(notifier.client.GetClient())
	return notifier
}

// Test that the partner URL and the path are joined with single
// slashes.
func TestMakeURL(t *testing.T) {
	notifier := NewNotifier(&dhcpcfg.HAConfig{PartnerURL: testPartnerURL + "/"})
	defer notifier.Shutdown()
	require.Equal(t, testPartnerURL+"/heartbeat", notifier.makeURL("heartbeat"))
	require.Equal(t, testPartnerURL+"/lease-update", notifier.makeURL("lease-update"))
}

// Test that a queued lease update reaches the partner as a JSON POST.
func TestQueueLeaseUpdate(t *testing.T) {
	defer gock.Off()
	gock.New(testPartnerURL).
		Post("/lease-update").
		MatchType("json").
		AddMatcher(func(r *http.Request, _ *gock.Request) (bool, error) {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				return false, err
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			var lease dhcpdata.Lease
			if err = json.Unmarshal(body, &lease); err != nil {
				return false, err
			}
			return lease.Address == "2001:db8:1::10" &&
				lease.State == dhcpdata.LeaseStateAssigned &&
				lease.ValidLifetime == 2000, nil
		}).
		Reply(200)

	notifier := newTestNotifier()
	defer notifier.Shutdown()

	lease := dhcpdata.NewAddressLease("2001:db8:1::10", "00:03:00:01:aa:bb:cc:dd:ee:01", 1, 1)
	lease.ValidLifetime = 2000
	notifier.QueueLeaseUpdate(lease)

	require.Eventually(t, gock.IsDone, 5*time.Second, 10*time.Millisecond)
}

// Test that a successful heartbeat marks the partner reachable.
func TestSendHeartbeat(t *testing.T) {
	defer gock.Off()
	gock.New(testPartnerURL).
		Post("/heartbeat").
		MatchType("json").
		Reply(200).
		JSON(map[string]string{"state": "running"})

	notifier := newTestNotifier()
	defer notifier.Shutdown()

	require.False(t, notifier.PartnerReachable())
	require.NoError(t, notifier.SendHeartbeat())
	require.True(t, notifier.PartnerReachable())
}

// Test that heartbeat failures mark the partner unreachable until it
// responds again.
func TestHeartbeatFailure(t *testing.T) {
	defer gock.Off()
	gock.New(testPartnerURL).
		Post("/heartbeat").
		ReplyError(pkgerrors.New("connection refused"))
	gock.New(testPartnerURL).
		Post("/heartbeat").
		Reply(503)
	gock.New(testPartnerURL).
		Post("/heartbeat").
		Reply(200)

	notifier := newTestNotifier()
	defer notifier.Shutdown()

	require.Error(t, notifier.SendHeartbeat())
	require.False(t, notifier.PartnerReachable())

	require.Error(t, notifier.SendHeartbeat())
	require.False(t, notifier.PartnerReachable())

	require.NoError(t, notifier.SendHeartbeat())
	require.True(t, notifier.PartnerReachable())
}

// Test that the heartbeats can be scheduled and stopped.
func TestNotifierStartShutdown(t *testing.T) {
	notifier := newTestNotifier()
	require.NoError(t, notifier.Start())
	notifier.Shutdown()
}

// Test that a notifier without a partner URL discards everything.
func TestNotifierDisabled(t *testing.T) {
	notifier := NewNotifier(nil)
	require.False(t, notifier.Enabled())
	require.NoError(t, notifier.Start())
	require.False(t, notifier.PartnerReachable())

	lease := dhcpdata.NewAddressLease("2001:db8:1::10", "00:03:00:01:aa:bb:cc:dd:ee:01", 1, 1)
	require.NotPanics(t, func() {
		notifier.QueueLeaseUpdate(lease)
		notifier.Shutdown()
	})
}
