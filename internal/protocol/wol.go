package protocol

import (
	"fmt"
	"net"
)

const wolPort = "9"

// MagicPacket builds the Wake-on-LAN payload: six 0xFF bytes followed by the
// hardware address repeated sixteen times.
func MagicPacket(mac string) ([]byte, error) {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return nil, fmt.Errorf("wake-on-lan: %w", err)
	}
	if len(hw) != 6 {
		return nil, fmt.Errorf("wake-on-lan: %q is not a 48-bit address", mac)
	}
	packet := make([]byte, 0, 6+16*6)
	for i := 0; i < 6; i++ {
		packet = append(packet, 0xFF)
	}
	for i := 0; i < 16; i++ {
		packet = append(packet, hw...)
	}
	return packet, nil
}

// WakeOnLAN broadcasts a magic packet for mac. An empty broadcast address
// means the limited broadcast 255.255.255.255.
func WakeOnLAN(mac, broadcast string) error {
	packet, err := MagicPacket(mac)
	if err != nil {
		return err
	}
	if broadcast == "" {
		broadcast = "255.255.255.255"
	}
	conn, err := net.Dial("udp", net.JoinHostPort(broadcast, wolPort))
	if err != nil {
		return fmt.Errorf("wake-on-lan: %w", err)
	}
	defer conn.Close()
	if _, err := conn.Write(packet); err != nil {
		return fmt.Errorf("wake-on-lan: %w", err)
	}
	return nil
}
