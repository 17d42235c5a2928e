package mount

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/fisaks/mountlink/internal/mountsim"
	"github.com/fisaks/mountlink/internal/protocol"
)

func startSim(t *testing.T) (*mountsim.Server, *protocol.Connection) {
	t.Helper()
	srv := mountsim.New(mountsim.DefaultState())
	if err := srv.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("start simulator: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	conn := protocol.NewConnection("127.0.0.1", srv.Addr().Port)
	conn.Timeout = time.Second
	return srv, conn
}

// fakeConn answers every Communicate with a fixed result.
type fakeConn struct {
	ok      bool
	chunks  []string
	batches []string
}

func (f *fakeConn) Communicate(batch, _ string) (bool, []string, int) {
	f.batches = append(f.batches, batch)
	return f.ok, f.chunks, len(f.chunks)
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-3 }

func TestFirmwarePoll(t *testing.T) {
	_, conn := startSim(t)
	fw := NewFirmware(conn)
	if ok, err := fw.Poll(); !ok {
		t.Fatalf("poll: %v", err)
	}
	got := fw.State()
	if got.Product != "10micron GM1000HPS" || got.Number != "3.0.4" || got.Date != "Mar 19 2021" || got.Time != "15:56:53" {
		t.Errorf("unexpected firmware %+v", got)
	}
	if fw.Updated().IsZero() {
		t.Error("updated time not set")
	}
}

func TestLocationPollAndSet(t *testing.T) {
	srv, conn := startSim(t)
	loc := NewLocation(conn)
	if ok, err := loc.Poll(); !ok {
		t.Fatalf("poll: %v", err)
	}
	got := loc.State()
	if !near(got.Longitude, 8.6) || !near(got.Latitude, 49.91) || !near(got.Elevation, 46.2) {
		t.Errorf("unexpected site %+v", got)
	}

	if err := loc.SetSite(Site{Elevation: 300, Longitude: -3.5, Latitude: 40.25}); err != nil {
		t.Fatalf("set site: %v", err)
	}
	st := srv.Snapshot()
	if !near(st.Longitude, -3.5) || !near(st.Latitude, 40.25) || !near(st.Elevation, 300) {
		t.Errorf("site not written: %v %v %v", st.Longitude, st.Latitude, st.Elevation)
	}
}

func TestPointingPoll(t *testing.T) {
	_, conn := startSim(t)
	p := NewPointing(conn)
	if ok, err := p.Poll(); !ok {
		t.Fatalf("poll: %v", err)
	}
	pos := p.State()
	if !near(pos.Sidereal, 12) || !near(pos.RA, 11.5) || !near(pos.Dec, 45) || pos.PierSide != "W" {
		t.Errorf("unexpected position %+v", pos)
	}
	if pos.Slewing || pos.Status != StatusTracking || pos.StatusText() != "tracking" {
		t.Errorf("unexpected status %+v", pos)
	}
	if math.Abs(pos.JD-TimeToJulian(time.Now())) > 1.0/86400 {
		t.Errorf("jd %f far from now", pos.JD)
	}
}

func TestPointingCommands(t *testing.T) {
	srv, conn := startSim(t)
	p := NewPointing(conn)

	if err := p.SlewRaDec(10, 20); err != nil {
		t.Fatalf("slew: %v", err)
	}
	if st := srv.Snapshot(); !st.Slewing || !near(st.TargetRA, 10) || !near(st.TargetDec, 20) {
		t.Errorf("slew not started: %+v", st)
	}
	if err := p.GuidePulse('n', 500); err != nil {
		t.Fatalf("guide: %v", err)
	}
	if err := p.GuidePulse('x', 500); err == nil {
		t.Error("bad direction accepted")
	}
	if err := p.Flip(); err != nil {
		t.Fatalf("flip: %v", err)
	}
	if err := p.Park(); err != nil {
		t.Fatalf("park: %v", err)
	}
	// fire-and-forget: wait until the simulator saw it
	deadline := time.Now().Add(time.Second)
	for srv.Count(":KA") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if srv.Snapshot().Status != StatusParked {
		t.Errorf("park not applied")
	}
}

func TestPollFailureKeepsPreviousState(t *testing.T) {
	_, conn := startSim(t)
	p := NewPointing(conn)
	if ok, _ := p.Poll(); !ok {
		t.Fatal("first poll failed")
	}
	before := p.State()

	p.conn = &fakeConn{ok: true, chunks: []string{"12:00:00.00", "11.5,+45.0,W,180.0"}}
	ok, err := p.Poll()
	if ok || !errors.Is(err, ErrChunkCount) {
		t.Fatalf("short info should fail with ErrChunkCount, got %v %v", ok, err)
	}
	if p.State() != before {
		t.Error("state changed on failed poll")
	}

	p.conn = &fakeConn{ok: false}
	if _, err := p.Poll(); !errors.Is(err, ErrCommunication) {
		t.Fatalf("want ErrCommunication, got %v", err)
	}
	if p.State() != before {
		t.Error("state changed on failed poll")
	}
}

func TestSettingsPollAndSetters(t *testing.T) {
	srv, conn := startSim(t)
	s := NewSettings(conn)
	if ok, err := s.Poll(); !ok {
		t.Fatalf("poll: %v", err)
	}
	got := s.State()
	want := Setup{
		SlewRate: 10, MeridianTrack: 5, MeridianSlew: 5,
		RefractionTemp: 10, RefractionPress: 1013.2, Temperature: 9.5,
		Refraction: true, DualAxis: true, HorizonHigh: 85, HorizonLow: 5,
		TrackingRate: 60.2, UTCValid: true, UTCExpiry: "2027-01-01",
	}
	if got != want {
		t.Errorf("got %+v\nwant %+v", got, want)
	}

	if err := s.SetSlewRate(12); err != nil {
		t.Fatalf("set slew rate: %v", err)
	}
	if err := s.SetUnattendedFlip(true); err != nil {
		t.Fatalf("set flip: %v", err)
	}
	if err := s.SetRefractionTemp(-4.5); err != nil {
		t.Fatalf("set temp: %v", err)
	}
	st := srv.Snapshot()
	if st.SlewRate != 12 || !st.UnattendedFlip || !near(st.RefractionTemp, -4.5) {
		t.Errorf("setters not applied: %+v", st)
	}

	if err := s.SetSlewRate(40); err == nil {
		t.Error("out of range slew rate accepted")
	}
	srv.Update(func(st *mountsim.State) { st.RejectSetCommand = true })
	if err := s.SetHorizonLow(2); !errors.Is(err, ErrCommunication) {
		t.Errorf("rejected setter: want ErrCommunication, got %v", err)
	}
}

func TestModelPoll(t *testing.T) {
	srv, conn := startSim(t)
	m := NewModel(conn)
	if ok, err := m.Poll(); !ok {
		t.Fatalf("poll: %v", err)
	}
	got := m.State()
	if !got.Valid || len(got.Stars) != 3 || got.Terms != 19 {
		t.Fatalf("unexpected model %+v", got)
	}
	if s := got.Stars[1]; s.Number != 2 || !near(s.HA, -2.25) || !near(s.Dec, 60) || !near(s.ErrorRMS, 7.9) {
		t.Errorf("unexpected star %+v", s)
	}

	if err := m.DeletePoint(1); err != nil {
		t.Fatalf("delete point: %v", err)
	}
	if n := len(srv.Snapshot().Stars); n != 2 {
		t.Errorf("stars after delete: %d", n)
	}
	if err := m.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if ok, err := m.Poll(); !ok {
		t.Fatalf("poll: %v", err)
	}
	if got := m.State(); got.Valid || len(got.Stars) != 0 {
		t.Errorf("cleared model still reported: %+v", got)
	}
}

func TestModelStarCountMismatch(t *testing.T) {
	f := &fakeConn{ok: true, chunks: []string{"E", "2"}}
	m := NewModel(f)
	if ok, err := m.Poll(); ok || !errors.Is(err, ErrChunkCount) {
		t.Fatalf("want ErrChunkCount, got %v %v", ok, err)
	}
	if len(f.batches) != 2 || f.batches[1] != ":getalp1#:getalp2#" {
		t.Errorf("unexpected batches %q", f.batches)
	}
}

func TestNameList(t *testing.T) {
	_, conn := startSim(t)
	n := NewNameList(conn)
	if ok, err := n.Poll(); !ok {
		t.Fatalf("poll: %v", err)
	}
	if got := n.State().Names; len(got) != 2 || got[0] != "default" || got[1] != "winter-2025" {
		t.Errorf("unexpected names %q", got)
	}
	if err := n.Save("spring"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := n.Load("spring"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := n.Delete("missing"); !errors.Is(err, ErrCommunication) {
		t.Errorf("delete missing: %v", err)
	}
	if err := n.Save("bad#name"); err == nil {
		t.Error("name with delimiter accepted")
	}
	if ok, _ := n.Poll(); !ok || len(n.State().Names) != 3 {
		t.Errorf("names after save: %q", n.State().Names)
	}
}

func TestSatellite(t *testing.T) {
	_, conn := startSim(t)
	s := NewSatellite(conn)
	if ok, err := s.Poll(); !ok {
		t.Fatalf("poll: %v", err)
	}
	if s.State().Loaded {
		t.Fatal("no tle expected")
	}
	if err := s.StartTracking(); err == nil {
		t.Error("tracking without tle accepted")
	}

	tle := TLE{
		Name:  "ISS (ZARYA)",
		Line1: "1 25544U 98067A   24001.50000000  .00016717  00000-0  10270-3 0  9005",
		Line2: "2 25544  51.6416 247.4627 0006703 130.5360 325.0288 15.72125391563537",
	}
	if err := s.SetTLE(tle); err != nil {
		t.Fatalf("set tle: %v", err)
	}
	if ok, err := s.Poll(); !ok {
		t.Fatalf("poll: %v", err)
	}
	got := s.State()
	if !got.Loaded || got.Name != tle.Name || got.Line1 != tle.Line1 || got.Line2 != tle.Line2 {
		t.Errorf("unexpected tle %+v", got)
	}
	if err := s.StartTracking(); err != nil {
		t.Errorf("start tracking: %v", err)
	}
}

func TestClockPoll(t *testing.T) {
	srv, conn := startSim(t)
	srv.Update(func(st *mountsim.State) { st.ClockOffset = -2 * time.Second })
	c := NewClock(conn)
	if ok, err := c.Poll(); !ok {
		t.Fatalf("poll: %v", err)
	}
	d := c.State().Delta()
	if d < 1900*time.Millisecond || d > 2100*time.Millisecond {
		t.Errorf("delta %v, want about 2s", d)
	}
}

func TestJulianConversion(t *testing.T) {
	ts := time.Date(2024, 3, 20, 3, 6, 0, 0, time.UTC)
	back := JulianToTime(TimeToJulian(ts))
	if d := back.Sub(ts); d > time.Millisecond || d < -time.Millisecond {
		t.Errorf("round trip off by %v", d)
	}
	if jd := TimeToJulian(time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)); math.Abs(jd-2451545.0) > 1e-6 {
		t.Errorf("J2000 = %f", jd)
	}
}
