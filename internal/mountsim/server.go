package mountsim

import (
	"bytes"
	"fmt"
	"math"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fisaks/mountlink/internal/logging"
	"github.com/fisaks/mountlink/internal/protocol"
	"github.com/fisaks/mountlink/internal/util"
)

// idleTimeout closes client connections that stop sending.
const idleTimeout = 5 * time.Second

// Server speaks the mount protocol over TCP, answering from a State.
type Server struct {
	mu    sync.Mutex
	state State

	ln       net.Listener
	handlers []handler
	wg       sync.WaitGroup

	// Received counts every command received, keyed by its text.
	received map[string]int
}

type handler struct {
	prefix string
	fn     func(s *State, cmd, arg string) (reply string, framed bool)
}

func New(state State) *Server {
	srv := &Server{state: state, received: make(map[string]int)}
	srv.handlers = buildHandlers()
	sort.SliceStable(srv.handlers, func(i, j int) bool {
		return len(srv.handlers[i].prefix) > len(srv.handlers[j].prefix)
	})
	return srv
}

// Start listens on addr ("127.0.0.1:0" picks a free port) and serves in the
// background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.wg.Add(1)
	go s.serve()
	logging.Info("mount simulator listening", "addr", ln.Addr().String())
	return nil
}

func (s *Server) Addr() *net.TCPAddr {
	return s.ln.Addr().(*net.TCPAddr)
}

func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	s.wg.Wait()
	return err
}

// Update mutates the simulated state under the server lock.
func (s *Server) Update(fn func(st *State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

// Snapshot returns a copy of the simulated state.
func (s *Server) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Count reports how many times cmd was received.
func (s *Server) Count(cmd string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received[cmd]
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

// handle answers commands as soon as their delimiter arrives.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	var pending []byte
	buf := make([]byte, 1024)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		n, err := conn.Read(buf)
		pending = append(pending, buf[:n]...)
		for {
			i := bytes.IndexByte(pending, protocol.Delimiter[0])
			if i < 0 {
				break
			}
			cmd := string(pending[:i])
			pending = pending[i+1:]
			if reply := s.respond(cmd); reply != "" {
				if _, werr := conn.Write([]byte(reply)); werr != nil {
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// respond returns the wire reply for one command, delimiter included when
// the command is framed.
func (s *Server) respond(cmd string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received[cmd]++
	s.state.advance(time.Now())

	d, ok := protocol.DefaultTable.Lookup(cmd)
	if ok && d.Reply == protocol.NoReply {
		s.apply(cmd)
		return ""
	}
	for _, h := range s.handlers {
		if strings.HasPrefix(cmd, h.prefix) {
			reply, framed := h.fn(&s.state, cmd, cmd[len(h.prefix):])
			if framed {
				return reply + protocol.Delimiter
			}
			return reply
		}
	}
	return "E" + protocol.Delimiter
}

// apply handles the commands that have no reply.
func (s *Server) apply(cmd string) {
	st := &s.state
	switch {
	case cmd == ":KA" || cmd == ":hP":
		st.Slewing = false
		st.Status = 5
	case cmd == ":PO" || cmd == ":AP":
		st.Status = 0
	case cmd == ":RT9":
		st.Status = 7
	case cmd == ":Q" || cmd == ":STOP":
		st.Slewing = false
		st.Status = 1
	}
}

func setter(apply func(s *State, arg string) error) func(*State, string, string) (string, bool) {
	return func(s *State, _, arg string) (string, bool) {
		if s.RejectSetCommand {
			return "0", false
		}
		if err := apply(s, arg); err != nil {
			return "0", false
		}
		return "1", false
	}
}

func getter(fn func(s *State) string) func(*State, string, string) (string, bool) {
	return func(s *State, _, _ string) (string, bool) { return fn(s), true }
}

func julianDate(t time.Time) float64 {
	return float64(t.UnixNano())/float64(24*time.Hour) + 2440587.5
}

func flag(b bool) string { return util.FlagString(b) }

func buildHandlers() []handler {
	return []handler{
		// firmware
		{":GVD", getter(func(s *State) string { return s.Date })},
		{":GVN", getter(func(s *State) string { return s.Number })},
		{":GVP", getter(func(s *State) string { return s.Product })},
		{":GVT", getter(func(s *State) string { return s.Time })},
		{":GVZ", getter(func(s *State) string { return s.Hardware })},

		// site
		{":Gev", getter(func(s *State) string { return fmt.Sprintf("%+07.1f", s.Elevation) })},
		{":Gg", getter(func(s *State) string { return util.FormatSexagesimal(-s.Longitude, "*", true, 1) })},
		{":Gt", getter(func(s *State) string { return util.FormatSexagesimal(s.Latitude, "*", true, 1) })},
		{":Sev", setter(func(s *State, arg string) error {
			v, err := util.ParseFloat(arg)
			s.Elevation = v
			return err
		})},
		{":Sg", setter(func(s *State, arg string) error {
			v, err := util.ParseSexagesimal(arg)
			s.Longitude = -v
			return err
		})},
		{":St", setter(func(s *State, arg string) error {
			v, err := util.ParseSexagesimal(arg)
			s.Latitude = v
			return err
		})},

		// pointing
		{":GS", getter(func(s *State) string { return util.FormatSexagesimal(s.Sidereal, ":", false, 2) })},
		{":GR", getter(func(s *State) string { return util.FormatSexagesimal(s.RA, ":", false, 2) })},
		{":GD", getter(func(s *State) string { return util.FormatSexagesimal(s.Dec, "*", true, 1) })},
		{":GA", getter(func(s *State) string { return util.FormatSexagesimal(s.Alt, "*", true, 1) })},
		{":GZ", getter(func(s *State) string { return util.FormatSexagesimal(s.Az, "*", false, 1) })},
		{":Ginfo", getter(func(s *State) string {
			return fmt.Sprintf("%.5f,%+.5f,%c,%.5f,%+.5f,%.8f,%d,%s",
				s.RA, s.Dec, s.PierSide, s.Az, s.Alt, julianDate(time.Now().Add(s.ClockOffset)),
				s.Status, flag(s.Slewing))
		})},
		{":GJD1", getter(func(s *State) string {
			return strconv.FormatFloat(julianDate(time.Now().Add(s.ClockOffset)), 'f', 8, 64)
		})},
		{":Sr", setter(func(s *State, arg string) error {
			v, err := util.ParseSexagesimal(arg)
			s.TargetRA = v
			return err
		})},
		{":Sd", setter(func(s *State, arg string) error {
			v, err := util.ParseSexagesimal(arg)
			s.TargetDec = v
			return err
		})},
		{":Sa", setter(func(*State, string) error { return nil })},
		{":Sz", setter(func(*State, string) error { return nil })},
		{":MS", func(s *State, _, _ string) (string, bool) {
			s.startSlew(time.Now())
			return "0", false
		}},
		{":MA", func(s *State, _, _ string) (string, bool) {
			s.TargetRA, s.TargetDec = s.RA, s.Dec
			s.startSlew(time.Now())
			return "0", false
		}},
		{":FLIP", func(s *State, _, _ string) (string, bool) {
			if s.PierSide == 'E' {
				s.PierSide = 'W'
			} else {
				s.PierSide = 'E'
			}
			return "1", false
		}},
		{":shutdown", func(*State, string, string) (string, bool) { return "1", false }},

		// settings
		{":GMs", getter(func(s *State) string { return strconv.Itoa(s.SlewRate) })},
		{":Glmt", getter(func(s *State) string { return fmt.Sprintf("%02d", s.MeridianTrack) })},
		{":Glms", getter(func(s *State) string { return fmt.Sprintf("%02d", s.MeridianSlew) })},
		{":GRTMP", getter(func(s *State) string { return fmt.Sprintf("%+06.1f", s.RefractionTemp) })},
		{":GRPRS", getter(func(s *State) string { return fmt.Sprintf("%06.1f", s.RefractionPress) })},
		{":GTMP1", getter(func(s *State) string { return fmt.Sprintf("%+05.1f", s.Temperature) })},
		{":GREF", getter(func(s *State) string { return flag(s.Refraction) })},
		{":Guaf", getter(func(s *State) string { return flag(s.UnattendedFlip) })},
		{":Gdat", getter(func(s *State) string { return flag(s.DualAxis) })},
		{":Gh", getter(func(s *State) string { return fmt.Sprintf("%+03d", s.HorizonHigh) })},
		{":Go", getter(func(s *State) string { return fmt.Sprintf("%+03d", s.HorizonLow) })},
		{":GT", getter(func(s *State) string { return fmt.Sprintf("%.1f", s.TrackingRate) })},
		{":GDUTV", getter(func(s *State) string { return s.UTCExpiry })},
		{":Sw", setter(func(s *State, arg string) error {
			v, err := util.ParseInt(arg)
			s.SlewRate = v
			return err
		})},
		{":SREF", setter(func(s *State, arg string) error {
			v, err := util.ParseFlag(arg)
			s.Refraction = v
			return err
		})},
		{":Suaf", setter(func(s *State, arg string) error {
			v, err := util.ParseFlag(arg)
			s.UnattendedFlip = v
			return err
		})},
		{":Sdat", setter(func(s *State, arg string) error {
			v, err := util.ParseFlag(arg)
			s.DualAxis = v
			return err
		})},
		{":Sh", setter(func(s *State, arg string) error {
			v, err := util.ParseInt(arg)
			s.HorizonHigh = v
			return err
		})},
		{":So", setter(func(s *State, arg string) error {
			v, err := util.ParseInt(arg)
			s.HorizonLow = v
			return err
		})},
		{":Slmt", setter(func(s *State, arg string) error {
			v, err := util.ParseInt(arg)
			s.MeridianTrack = v
			return err
		})},
		{":Slms", setter(func(s *State, arg string) error {
			v, err := util.ParseInt(arg)
			s.MeridianSlew = v
			return err
		})},
		{":SRTMP", setter(func(s *State, arg string) error {
			v, err := util.ParseFloat(arg)
			s.RefractionTemp = v
			return err
		})},
		{":SRPRS", setter(func(s *State, arg string) error {
			v, err := util.ParseFloat(arg)
			s.RefractionPress = v
			return err
		})},

		// alignment model
		{":getain", getter(func(s *State) string {
			if len(s.Stars) == 0 {
				return "E"
			}
			return fmt.Sprintf("%08.4f,%+08.4f,%07.4f,%06.2f,%+08.4f,%+06.2f,%+06.2f,%02d,%07.1f",
				180.0012, 49.9123, 0.0123, 12.5, 0.0045, 1.25, -0.75, 19, rms(s.Stars))
		})},
		{":getalst", getter(func(s *State) string { return strconv.Itoa(len(s.Stars)) })},
		{":getalp", func(s *State, _, arg string) (string, bool) {
			n, err := util.ParseInt(arg)
			if err != nil || n < 1 || n > len(s.Stars) {
				return "E", true
			}
			st := s.Stars[n-1]
			return fmt.Sprintf("%s,%s,%06.1f,%03d",
				util.FormatSexagesimal(st.HA, ":", false, 2),
				util.FormatSexagesimal(st.Dec, "*", true, 1),
				st.ErrorRMS, int(st.Angle)), true
		}},
		{":delalp", func(s *State, _, arg string) (string, bool) {
			n, err := util.ParseInt(arg)
			if err != nil || n < 1 || n > len(s.Stars) {
				return "0", true
			}
			s.Stars = append(s.Stars[:n-1:n-1], s.Stars[n:]...)
			return "1", true
		}},
		{":delalig", func(s *State, _, _ string) (string, bool) {
			s.Stars = nil
			return "", true
		}},
		{":newalig", func(*State, string, string) (string, bool) { return "V", true }},
		{":newalpt", func(*State, string, string) (string, bool) { return "E", true }},
		{":endalig", func(*State, string, string) (string, bool) { return "V", true }},

		// model names
		{":modelcnt", getter(func(s *State) string { return strconv.Itoa(len(s.Names)) })},
		{":modelnam", func(s *State, _, arg string) (string, bool) {
			n, err := util.ParseInt(arg)
			if err != nil || n < 1 || n > len(s.Names) {
				return "E", true
			}
			return s.Names[n-1], true
		}},
		{":modelld0", func(s *State, _, arg string) (string, bool) {
			for _, name := range s.Names {
				if name == arg {
					return "1", true
				}
			}
			return "0", true
		}},
		{":modelsv0", func(s *State, _, arg string) (string, bool) {
			for _, name := range s.Names {
				if name == arg {
					return "1", true
				}
			}
			s.Names = append(s.Names, arg)
			return "1", true
		}},
		{":modeldel0", func(s *State, _, arg string) (string, bool) {
			for i, name := range s.Names {
				if name == arg {
					s.Names = append(s.Names[:i:i], s.Names[i+1:]...)
					return "1", true
				}
			}
			return "0", true
		}},

		// satellite
		{":TLEG", getter(func(s *State) string {
			if s.TLE == "" {
				return "E"
			}
			return s.TLE
		})},
		{":TLEL0", func(s *State, _, arg string) (string, bool) {
			if strings.Count(arg, "$0a") < 2 && strings.Count(arg, "$0A") < 2 {
				return "E", true
			}
			s.TLE = arg
			return "V", true
		}},
		{":TLES", func(s *State, _, _ string) (string, bool) {
			if s.TLE == "" {
				return "E", true
			}
			s.Status = 10
			return "V", true
		}},
		{":TLEP", func(*State, string, string) (string, bool) { return "E", true }},
		{":TLEI", func(*State, string, string) (string, bool) { return "E", true }},
	}
}

func rms(stars []Star) float64 {
	if len(stars) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range stars {
		sum += s.ErrorRMS * s.ErrorRMS
	}
	return math.Sqrt(sum / float64(len(stars)))
}
