package nostr

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/nbd-wtf/go-nostr"

	types "github.com/rabble/nosflare-sub000/lib"
	"github.com/rabble/nosflare-sub000/lib/query"
	"github.com/rabble/nosflare-sub000/lib/stores"
)

var nip05Client = &http.Client{Timeout: 5 * time.Second}

// Nip05Response is the well-known document shape.
type Nip05Response struct {
	Names  map[string]string   `json:"names"`
	Relays map[string][]string `json:"relays,omitempty"`
}

// VerifyNip05 checks that the author's kind-0 profile carries a nip05
// identifier whose domain resolves back to this pubkey. The profile is read
// locally first, then from the configured upstream relay HTTP endpoint.
func VerifyNip05(store stores.Store, pubkey string, settings types.RelaySettings) error {
	profile, err := latestProfile(store, pubkey, settings.Nip05Upstream)
	if err != nil {
		return err
	}
	if profile == nil {
		return fmt.Errorf("no kind 0 profile found for %s", pubkey)
	}

	var content struct {
		Nip05 string `json:"nip05"`
	}
	json := jsoniter.ConfigCompatibleWithStandardLibrary
	if err := json.Unmarshal([]byte(profile.Content), &content); err != nil {
		return fmt.Errorf("profile content is not valid json: %w", err)
	}
	if content.Nip05 == "" {
		return fmt.Errorf("profile has no nip05 identifier")
	}

	name, domain, ok := strings.Cut(content.Nip05, "@")
	if !ok || name == "" || domain == "" {
		return fmt.Errorf("malformed nip05 identifier %q", content.Nip05)
	}
	domain = strings.ToLower(domain)

	for _, blocked := range settings.BlockedNip05 {
		if strings.EqualFold(blocked, domain) {
			return fmt.Errorf("nip05 domain %s is blocked", domain)
		}
	}
	if len(settings.AllowedNip05) > 0 {
		allowed := false
		for _, d := range settings.AllowedNip05 {
			if strings.EqualFold(d, domain) {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("nip05 domain %s is not on the allowlist", domain)
		}
	}

	wellKnown := fmt.Sprintf("https://%s/.well-known/nostr.json?name=%s", domain, url.QueryEscape(name))
	resp, err := nip05Client.Get(wellKnown)
	if err != nil {
		return fmt.Errorf("nip05 lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nip05 lookup returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("nip05 lookup read failed: %w", err)
	}

	var doc Nip05Response
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("nip05 document is not valid json: %w", err)
	}
	if doc.Names[name] != pubkey {
		return fmt.Errorf("nip05 name %s does not resolve to %s", name, pubkey)
	}
	return nil
}

// latestProfile returns the author's newest kind-0 event, consulting the
// upstream relay's event endpoint when the hot store has none.
func latestProfile(store stores.Store, pubkey string, upstream string) (*nostr.Event, error) {
	var f query.Filter
	f.Kinds = []int{0}
	f.Authors = []string{pubkey}
	f.Limit = 1

	events, err := store.QueryEvents(&f)
	if err != nil {
		return nil, err
	}
	if len(events) > 0 {
		return events[0], nil
	}

	if upstream == "" {
		return nil, nil
	}

	resp, err := nip05Client.Get(fmt.Sprintf("%s?pubkey=%s", upstream, url.QueryEscape(pubkey)))
	if err != nil {
		return nil, fmt.Errorf("upstream profile fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
	if err != nil {
		return nil, err
	}

	var event nostr.Event
	json := jsoniter.ConfigCompatibleWithStandardLibrary
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("upstream profile is not valid json: %w", err)
	}
	if event.Kind != 0 || event.PubKey != pubkey {
		return nil, nil
	}
	return &event, nil
}
