package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/ukydev/kid-tracker/internal/ingest"
	"github.com/ukydev/kid-tracker/internal/models"
	"github.com/ukydev/kid-tracker/internal/protocol"
)

// Point is a geographical coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// Homes kids start from and wander around.
var homes = []Point{
	{Lat: 51.5074, Lon: -0.1278},  // London
	{Lat: 40.4168, Lon: -3.7038},  // Madrid
	{Lat: 48.8566, Lon: 2.3522},   // Paris
	{Lat: 52.5200, Lon: 13.4050},  // Berlin
	{Lat: 22.5431, Lon: 114.0579}, // Shenzhen
	{Lat: 35.6762, Lon: 139.6503}, // Tokyo
	{Lat: 43.6532, Lon: -79.3832}, // Toronto
	{Lat: -33.8688, Lon: 151.2093}, // Sydney
}

func jitter(base Point, meters float64) Point {
	latMetersPerDeg := 111320.0
	lonMetersPerDeg := 111320.0 * math.Cos(base.Lat*math.Pi/180)
	dLat := (rand.Float64()*2 - 1) * (meters / latMetersPerDeg)
	dLon := (rand.Float64()*2 - 1) * (meters / lonMetersPerDeg)
	return Point{Lat: base.Lat + dLat, Lon: base.Lon + dLon}
}

func haversineKm(a, b Point) float64 {
	R := 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
	return R * c
}

func lerp(a, b Point, t float64) Point {
	return Point{Lat: a.Lat + (b.Lat-a.Lat)*t, Lon: a.Lon + (b.Lon-a.Lon)*t}
}

// --- Routing & movement ---

type Route struct {
	Points    []Point
	SegIndex  int
	SegOffset float64 // km along current segment
}

// Kid is the simulated state of one watch.
type Kid struct {
	DeviceID  string
	Home      Point
	Position  Point
	SpeedKmh  float64
	Battery   float64
	Pedometer int
	Rolls     int
	Route     *Route
}

// routeFetcher returns walking waypoints between two points.
var routeFetcher = fetchOSRMRoute

func fetchOSRMRoute(start, end Point) ([]Point, error) {
	url := fmt.Sprintf("https://router.project-osrm.org/route/v1/foot/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson", start.Lon, start.Lat, end.Lon, end.Lat)
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("osrm status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var obj struct {
		Routes []struct {
			Geometry struct {
				Coordinates [][]float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"routes"`
	}
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, err
	}
	if len(obj.Routes) == 0 || len(obj.Routes[0].Geometry.Coordinates) < 2 {
		return nil, fmt.Errorf("no route")
	}
	coords := obj.Routes[0].Geometry.Coordinates
	pts := make([]Point, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		pts = append(pts, Point{Lat: c[1], Lon: c[0]})
	}
	return pts, nil
}

// planRoute sends the kid somewhere within walking distance of home.
func planRoute(k *Kid) {
	start := k.Position
	end := jitter(k.Home, 1500)
	pts, err := routeFetcher(start, end)
	if err != nil || len(pts) < 2 {
		k.Route = &Route{Points: []Point{start, end}}
		return
	}
	k.Route = &Route{Points: pts}
}

func step(k *Kid, tickSec float64) {
	if k.Route == nil || len(k.Route.Points) < 2 {
		planRoute(k)
	}
	remKm := k.SpeedKmh * (tickSec / 3600.0)
	walked := remKm
	for remKm > 0 && k.Route.SegIndex < len(k.Route.Points)-1 {
		a := k.Route.Points[k.Route.SegIndex]
		b := k.Route.Points[k.Route.SegIndex+1]
		segLen := haversineKm(a, b)
		leftOnSeg := segLen - k.Route.SegOffset
		if remKm >= leftOnSeg {
			k.Position = b
			k.Route.SegIndex++
			k.Route.SegOffset = 0
			remKm -= leftOnSeg
			continue
		}
		t := (k.Route.SegOffset + remKm) / segLen
		if t < 0 {
			t = 0
		}
		if t > 1 {
			t = 1
		}
		k.Position = lerp(a, b, t)
		k.Route.SegOffset += remKm
		remKm = 0
	}
	if k.Route.SegIndex >= len(k.Route.Points)-1 {
		planRoute(k)
	}

	// roughly 1300 steps per km for a child
	k.Pedometer += int((walked - remKm) * 1300)
	if rand.Intn(20) == 0 {
		k.Rolls++
	}
	k.Battery -= 0.05
	if k.Battery < 5 {
		k.Battery = 100
	}
}

func locationEnvelope(k *Kid, now time.Time) ingest.Envelope {
	payload := protocol.FormatLocation(models.Location{
		Time:       now.UTC(),
		Valid:      true,
		Latitude:   k.Position.Lat,
		Longitude:  k.Position.Lon,
		Speed:      k.SpeedKmh,
		Satellites: 6 + rand.Intn(6),
		GSM:        60 + rand.Intn(40),
		Battery:    int(k.Battery),
		Pedometer:  k.Pedometer,
		Rolls:      k.Rolls,
	})
	return ingest.Envelope{
		DeviceID:     k.DeviceID,
		Manufacturer: ingest.DefaultManufacturer,
		Type:         protocol.TypeLocation,
		Payload:      payload,
		Source:       models.SourceDevice,
		Timestamp:    now.UTC(),
	}
}

func linkEnvelope(k *Kid, now time.Time) ingest.Envelope {
	return ingest.Envelope{
		DeviceID:     k.DeviceID,
		Manufacturer: ingest.DefaultManufacturer,
		Type:         protocol.TypeLink,
		Payload:      protocol.FormatLink(models.Link{Pedometer: k.Pedometer, Rolls: k.Rolls, Battery: int(k.Battery)}),
		Source:       models.SourceDevice,
		Timestamp:    now.UTC(),
	}
}

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

type mqttPublisher struct {
	client mqtt.Client
}

func (p *mqttPublisher) Publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

func send(pub Publisher, prefix string, env ingest.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.WithError(err).Error("Failed to marshal message")
		return
	}
	if err := pub.Publish(ingest.Topic(prefix, env.DeviceID), data); err != nil {
		log.WithError(err).WithField("device_id", env.DeviceID).Error("Failed to publish message")
		return
	}
	log.WithFields(log.Fields{"device_id": env.DeviceID, "type": env.Type}).Debug("Published message")
}

// simulateKid publishes a location every tick and a link every linkEvery
// ticks until ctx is done.
func simulateKid(ctx context.Context, pub Publisher, prefix string, k *Kid, interval time.Duration, linkEvery int) {
	if k.Route == nil {
		planRoute(k)
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			k.SpeedKmh += (rand.Float64()*2 - 1) * 0.5
			if k.SpeedKmh < 1 {
				k.SpeedKmh = 1
			}
			if k.SpeedKmh > 8 {
				k.SpeedKmh = 8
			}
			step(k, interval.Seconds())
			send(pub, prefix, locationEnvelope(k, now))
			if linkEvery > 0 && n%linkEvery == 0 {
				send(pub, prefix, linkEnvelope(k, now))
			}
		}
	}
}

func newKids(n int) []*Kid {
	kids := make([]*Kid, 0, n)
	for i := 0; i < n; i++ {
		home := jitter(homes[rand.Intn(len(homes))], 500)
		kids = append(kids, &Kid{
			DeviceID: fmt.Sprintf("%010d", 3000000001+i),
			Home:     home,
			Position: home,
			SpeedKmh: 2 + rand.Float64()*3,
			Battery:  50 + rand.Float64()*50,
		})
	}
	return kids
}

func envInt(key string, fallback, min int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= min {
			return n
		}
	}
	return fallback
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "simulator",
	Short: "Publish simulated kid tracker messages to MQTT",
	Long: `Simulates kid watches walking around their homes. Every tick each watch
publishes a UD location message, and every --link-every ticks an LK link
message, on <topic-prefix>/devices/<device_id>/messages.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		kidCount, _ := cmd.Flags().GetInt("kids")
		interval, _ := cmd.Flags().GetDuration("interval")
		linkEvery, _ := cmd.Flags().GetInt("link-every")
		broker, _ := cmd.Flags().GetString("broker")
		prefix, _ := cmd.Flags().GetString("topic-prefix")
		clientID, _ := cmd.Flags().GetString("client-id")
		if kidCount < 1 || interval <= 0 {
			return fmt.Errorf("kids must be positive and interval greater than zero")
		}
		return run(cmd.Context(), broker, clientID, prefix, kidCount, interval, linkEvery)
	},
}

func init() {
	_ = godotenv.Load()

	rootCmd.Flags().Int("kids", envInt("SIM_KIDS", 5, 1), "number of simulated watches")
	rootCmd.Flags().Duration("interval", time.Duration(envInt("SIM_TICK_SECONDS", 5, 1))*time.Second, "location publish interval")
	rootCmd.Flags().Int("link-every", envInt("SIM_LINK_EVERY", 6, 1), "publish a link message every N ticks")
	rootCmd.Flags().String("broker", envString("MQTT_BROKER", "tcp://localhost:1883"), "MQTT broker URL")
	rootCmd.Flags().String("topic-prefix", envString("SIM_TOPIC_PREFIX", "kidtracker"), "topic prefix")
	rootCmd.Flags().String("client-id", envString("SIM_CLIENT_ID", "kidtracker-simulator"), "MQTT client id")
}

func run(ctx context.Context, broker, clientID, prefix string, kidCount int, interval time.Duration, linkEvery int) error {
	log.WithFields(log.Fields{
		"kids":     kidCount,
		"broker":   broker,
		"interval": interval,
	}).Info("Starting kid tracker simulation")

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	if user := os.Getenv("MQTT_USERNAME"); user != "" {
		opts.SetUsername(user)
		opts.SetPassword(os.Getenv("MQTT_PASSWORD"))
	}
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to %s: %w", broker, token.Error())
	}
	defer client.Disconnect(500)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pub := &mqttPublisher{client: client}
	var wg sync.WaitGroup
	for _, k := range newKids(kidCount) {
		wg.Add(1)
		go func(k *Kid) {
			defer wg.Done()
			simulateKid(ctx, pub, prefix, k, interval, linkEvery)
		}(k)
	}

	log.Info("Simulation started")
	wg.Wait()
	log.Info("Simulation stopped")
	return nil
}
