package mount

const firmwareBatch = ":U2#:GVD#:GVN#:GVP#:GVT#"

type FirmwareInfo struct {
	Product string `json:"product"`
	Number  string `json:"number"`
	Date    string `json:"date"`
	Time    string `json:"time"`
}

// Firmware reads the controller identification once per connect.
type Firmware struct {
	holder[FirmwareInfo]
	conn Communicator
}

func NewFirmware(conn Communicator) *Firmware {
	return &Firmware{conn: conn}
}

func (f *Firmware) Poll() (bool, error) {
	chunks, err := query(f.conn, firmwareBatch, 4)
	if err != nil {
		return false, err
	}
	f.set(FirmwareInfo{
		Date:    chunks[0],
		Number:  chunks[1],
		Product: chunks[2],
		Time:    chunks[3],
	})
	return true, nil
}
