package websocket

import (
	"errors"
	"sort"
	"strconv"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/rabble/nosflare-sub000/lib/broker"
	"github.com/rabble/nosflare-sub000/lib/config"
	"github.com/rabble/nosflare-sub000/lib/logging"
	"github.com/rabble/nosflare-sub000/lib/query"
	"github.com/rabble/nosflare-sub000/lib/stores"
)

const relaySoftware = "https://github.com/rabble/nosflare-sub000"
const relayVersion = "0.1.0"

var supportedNIPs = []int{1, 2, 4, 5, 9, 11, 12, 15, 16, 17, 20, 22, 33, 40, 50}

// BuildServer wires the HTTP surface and the WebSocket endpoint over the hot
// store and the shard broker.
func BuildServer(store stores.Store, b *broker.Broker, router *broker.Router) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Use(handleRelayInfoRequests)

	app.Get("/", websocket.New(func(c *websocket.Conn) {
		serveConnection(c, store, b, router)
	}))

	app.Get("/.well-known/nostr.json", func(c *fiber.Ctx) error {
		return handleNostrJSON(c, store)
	})

	app.Get("/_migrations", func(c *fiber.Ctx) error {
		migrations, err := store.AppliedMigrations()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(migrations)
	})

	app.Get("/_health", func(c *fiber.Ctx) error {
		counts, err := store.KindCounts()
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "error": err.Error()})
		}
		var total int64
		for _, n := range counts {
			total += n
		}
		return c.JSON(fiber.Map{"status": "ok", "events": total, "shards": b.ShardIDs()})
	})

	app.Get("/trending/hashtags", func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", 20)
		stats, err := store.TrendingHashtags(limit)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"hashtags": stats})
	})

	app.Get("/payment/check/:pubkey", func(c *fiber.Ctx) error {
		paid, err := store.IsPaidPubkey(c.Params("pubkey"))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"pubkey": c.Params("pubkey"), "paid": paid})
	})

	app.Post("/payment/notify", func(c *fiber.Ctx) error {
		var body struct {
			Pubkey string `json:"pubkey"`
			Amount int64  `json:"amount"`
		}
		if err := c.BodyParser(&body); err != nil || body.Pubkey == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payment notification"})
		}
		cfg := config.GetConfig()
		if cfg.Payment.Enabled && body.Amount < cfg.Payment.PriceSats {
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": "insufficient amount"})
		}
		if err := store.SavePaidPubkey(body.Pubkey, body.Amount); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"pubkey": body.Pubkey, "paid": true})
	})

	return app
}

// StartServer blocks serving the app on the configured port.
func StartServer(app *fiber.App) error {
	port := config.GetConfig().Port
	if _, err := strconv.Atoi(port); err != nil {
		logging.Fatalf("Error parsing port %s: %v", port, err)
	}
	return app.Listen(":" + port)
}

// serveConnection homes the socket on a shard and runs the read loop until
// the client goes away.
func serveConnection(c *websocket.Conn, store stores.Store, b *broker.Broker, router *broker.Router) {
	loc := locationFromHeaders(c)

	var session *Session
	for _, shardID := range router.Route(loc) {
		shard, ok := b.Shard(shardID)
		if !ok {
			continue
		}
		candidate := newSession(c, shard, shardID, config.GetConfig().RateLimit)
		if err := shard.Attach(candidate); err != nil {
			logging.Warnf("Shard %s refused session: %v", shardID, err)
			continue
		}
		session = candidate
		break
	}
	if session == nil {
		logging.Errorf("No shard available for connection from %s/%s", loc.Country, loc.Region)
		return
	}
	defer session.close()

	logging.Debugf("Session %s homed on shard %s", session.id, session.region)

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			break
		}
		if err := handleFrame(session, b, message); err != nil {
			break
		}
	}
}

// locationFromHeaders reads the edge geolocation headers captured at upgrade
// time. Missing headers route to the default shard.
func locationFromHeaders(c *websocket.Conn) broker.Location {
	header := func(key string) string {
		if v, ok := c.Locals(key).(string); ok {
			return v
		}
		return ""
	}
	return broker.Location{
		Continent: header("continent"),
		Country:   header("country"),
		Region:    header("region"),
	}
}

func handleRelayInfoRequests(c *fiber.Ctx) error {
	if c.Method() == "GET" && c.Path() == "/" {
		if c.Get("Accept") == "application/nostr+json" {
			c.Set("Access-Control-Allow-Origin", "*")
			return c.JSON(GetRelayInfo())
		}
		if c.Get("Upgrade") != "websocket" {
			cfg := config.GetConfig()
			return c.SendString(cfg.RelayName + " - a Nostr relay for short-form video. Connect with a Nostr client over WebSocket.")
		}
		// Geolocation headers disappear after the upgrade, so stash
		// them on the context for the connection handler.
		c.Locals("continent", c.Get("CF-IPContinent"))
		c.Locals("country", c.Get("CF-IPCountry"))
		c.Locals("region", c.Get("CF-Region-Code"))
	}
	return c.Next()
}

// GetRelayInfo builds the NIP-11 document, including the vendor extension
// blocks video clients key their feature detection on.
func GetRelayInfo() NIP11RelayInfo {
	cfg := config.GetConfig()
	caps := query.CapsFromSettings(cfg.Query)

	info := NIP11RelayInfo{
		Name:          cfg.RelayName,
		Description:   cfg.RelayDesc,
		Pubkey:        cfg.RelayPubkey,
		Contact:       cfg.RelayContact,
		Icon:          cfg.RelayIcon,
		SupportedNIPs: supportedNIPs,
		Software:      relaySoftware,
		Version:       relayVersion,
		Limitation: &RelayLimitation{
			PaymentRequired:  cfg.Payment.Enabled,
			RestrictedWrites: cfg.Payment.Enabled || len(cfg.RelaySettings.AllowedPubkeys) > 0,
		},
		DivineExtensions: &DivineExtensions{
			IntFilters:          sortedKeys(query.IntMetrics),
			SortFields:          sortedKeys(query.SortFields),
			CursorFormat:        "base64url-encoded HMAC-SHA256 with query hash binding",
			VideosKind:          34236,
			MetricsFreshnessSec: 3600,
			LimitMax:            caps.MaxLimit,
			Proofmode: &ProofmodeInfo{
				Enabled:            true,
				VerificationFilter: "verification",
				VerificationLevels: sortedKeys(query.VerificationLevels),
				Tags:               []string{"proofmode", "device_attestation", "pgp_fingerprint"},
			},
		},
		Search: &SearchInfo{
			Enabled:          true,
			EntityTypes:      sortedKeys(query.SearchEntities),
			Extensions:       []string{"search_types"},
			MaxResults:       caps.MaxLimit,
			RankingAlgorithm: "bm25",
			Features: []string{
				"prefix_matching", "autocomplete", "snippet_generation", "relevance_scoring",
			},
		},
	}

	return info
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// handleNostrJSON serves NIP-05 lookups backed by stored kind-0 profiles.
// Resolution happens in the store so the lookup is not capped by a query
// limit.
func handleNostrJSON(c *fiber.Ctx, store stores.Store) error {
	name := c.Query("name")
	if name == "" {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "name required"})
	}

	pubkey, err := store.ResolveProfileName(name)
	if errors.Is(err, stores.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "name not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	c.Set("Access-Control-Allow-Origin", "*")
	return c.JSON(fiber.Map{
		"names":  map[string]string{name: pubkey},
		"relays": map[string][]string{pubkey: {}},
	})
}
