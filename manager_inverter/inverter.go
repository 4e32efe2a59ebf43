// Package manager_inverter adapts the Modbus register access patterns
// of the sigenergy client into the narrow capability surface the
// supervisor actually drives, the way original_source/src/manager_fox_cloud
// drove a cloud-REST inverter instead: current SoC, min/max SoC, the
// two-slot charging time schedule, device clock, and per-day device
// history. Grounded on sigenergy/modbus_client.go for the Modbus
// transport (goburrow/modbus, big-endian register packing) and on
// manager_fox_cloud/mod.rs for the capability surface and the
// charge-time-schedule overlap rule it enforces.
package manager_inverter

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/goburrow/modbus"
	"github.com/gostonefire/mygrid/mgrerrors"
)

// Register addresses for the ESS control block this package drives.
// Laid out after sigenergy's plant/ESS register ranges (30000-3xxxx
// reads, 40000-4xxxx writes) to avoid colliding with the registers
// sigenergy.SigenModbusClient already documents.
const (
	regCurrentSOC       = 30028 // input register, 0.1% units (shared with sigenergy ESSSOC)
	regMinSOCOnGrid      = 41100 // holding register, percent
	regMaxSOC            = 41101 // holding register, percent
	regChargeSchedule1   = 41110 // holding registers, 4x uint16: enable,startMinuteOfDay,endMinuteOfDay
	regChargeSchedule2   = 41114
	regDeviceTime        = 41200 // holding registers, 3x uint32: epoch seconds, then 2 reserved
	regHistoryDayBase    = 42000 // input registers, 96 quarter-hour slots x 2 (pv, load), 0.01 kW units
)

const PlantSlaveAddress byte = 247

// Client is a narrow capability wrapper over a Modbus TCP connection
// to a Sigenergy-style inverter.
type Client struct {
	handler *modbus.TCPClientHandler
	client  modbus.Client
	slaveID byte
}

// NewClient dials a Modbus TCP inverter at address and addresses every
// request to slaveID.
func NewClient(address string, slaveID byte) (*Client, error) {
	handler := modbus.NewTCPClientHandler(address)
	handler.SlaveId = slaveID
	handler.Timeout = 5 * time.Second

	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("%w: connect inverter: %v", mgrerrors.CollaboratorTransient, err)
	}

	return &Client{
		handler: handler,
		client:  modbus.NewClient(handler),
		slaveID: slaveID,
	}, nil
}

// Close releases the underlying Modbus connection.
func (c *Client) Close() error {
	return c.handler.Close()
}

// GetCurrentSOC returns the battery's current state of charge, 0-100.
func (c *Client) GetCurrentSOC() (int, error) {
	data, err := c.client.ReadInputRegisters(regCurrentSOC, 1)
	if err != nil {
		return 0, fmt.Errorf("%w: read current soc: %v", mgrerrors.CollaboratorTransient, err)
	}
	return int(binary.BigEndian.Uint16(data) / 10), nil
}

// SetMinSOCOnGrid sets the battery's minimum SoC while connected to
// grid, 10-100. This is the register the supervisor uses as its Hold
// floor and as the Charge-block completion signal.
func (c *Client) SetMinSOCOnGrid(soc int) error {
	if soc < 10 || soc > 100 {
		return fmt.Errorf("%w: min soc on grid out of range: %d", mgrerrors.CollaboratorPermanent, soc)
	}
	_, err := c.client.WriteSingleRegister(regMinSOCOnGrid, uint16(soc))
	if err != nil {
		return fmt.Errorf("%w: set min soc on grid: %v", mgrerrors.CollaboratorTransient, err)
	}
	return nil
}

// SetMaxSOC sets the battery's maximum SoC, 10-100.
func (c *Client) SetMaxSOC(soc int) error {
	if soc < 10 || soc > 100 {
		return fmt.Errorf("%w: max soc out of range: %d", mgrerrors.CollaboratorPermanent, soc)
	}
	_, err := c.client.WriteSingleRegister(regMaxSOC, uint16(soc))
	if err != nil {
		return fmt.Errorf("%w: set max soc: %v", mgrerrors.CollaboratorTransient, err)
	}
	return nil
}

// SetBatteryChargingTimeSchedule programs the two-slot force-charge
// schedule. No overlap is permitted between the two slots; an overlap
// is rejected before anything is written, matching the validation
// manager_fox_cloud's build_charge_time_schedule performs.
func (c *Client) SetBatteryChargingTimeSchedule(enable1 bool, start1, end1 time.Time, enable2 bool, start2, end2 time.Time) error {
	if enable1 && enable2 && slotsOverlap(start1, end1, start2, end2) {
		return fmt.Errorf("%w: overlapping charge schedule slots", mgrerrors.CollaboratorPermanent)
	}

	if err := c.writeScheduleSlot(regChargeSchedule1, enable1, start1, end1); err != nil {
		return err
	}
	return c.writeScheduleSlot(regChargeSchedule2, enable2, start2, end2)
}

func (c *Client) writeScheduleSlot(base uint16, enable bool, start, end time.Time) error {
	var enableVal uint16
	if enable {
		enableVal = 1
	}
	values := make([]byte, 8)
	binary.BigEndian.PutUint16(values[0:2], enableVal)
	binary.BigEndian.PutUint16(values[2:4], minuteOfDay(start))
	binary.BigEndian.PutUint16(values[4:6], minuteOfDay(end))
	binary.BigEndian.PutUint16(values[6:8], 0)

	if _, err := c.client.WriteMultipleRegisters(base, 4, values); err != nil {
		return fmt.Errorf("%w: set charging time schedule: %v", mgrerrors.CollaboratorTransient, err)
	}
	return nil
}

func minuteOfDay(t time.Time) uint16 {
	return uint16(t.Hour()*60 + t.Minute())
}

func slotsOverlap(start1, end1, start2, end2 time.Time) bool {
	a1, a2 := minuteOfDay(start1), minuteOfDay(end1)
	b1, b2 := minuteOfDay(start2), minuteOfDay(end2)
	return a1 < b2 && b1 < a2
}

// historyRegsPerSlot is the register width of one GetDeviceHistoryData
// slot: two uint32 values (pv, load), 2 registers each.
const historyRegsPerSlot = 4

// maxRegsPerModbusRead is the largest register count a single Modbus
// PDU can carry (the protocol's own limit, not a device-specific one).
const maxRegsPerModbusRead = 125

type historyChunk struct {
	addr     uint16
	quantity uint16
}

// historyReadChunks splits a slots-slot read starting at
// regHistoryDayBase into <=125-register windows, each holding a whole
// number of slots so no pv/load pair straddles a chunk boundary.
func historyReadChunks(slots int) []historyChunk {
	maxSlotsPerRead := maxRegsPerModbusRead / historyRegsPerSlot

	var chunks []historyChunk
	for start := 0; start < slots; start += maxSlotsPerRead {
		n := maxSlotsPerRead
		if start+n > slots {
			n = slots - start
		}
		chunks = append(chunks, historyChunk{
			addr:     uint16(regHistoryDayBase + start*historyRegsPerSlot),
			quantity: uint16(n * historyRegsPerSlot),
		})
	}
	return chunks
}

// DisableChargeSchedule clears both force-charge schedule slots.
func (c *Client) DisableChargeSchedule() error {
	zero := time.Time{}
	return c.SetBatteryChargingTimeSchedule(false, zero, zero, false, zero, zero)
}

// GetDeviceTime returns the inverter's own clock.
func (c *Client) GetDeviceTime() (time.Time, error) {
	data, err := c.client.ReadHoldingRegisters(regDeviceTime, 2)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: read device time: %v", mgrerrors.CollaboratorTransient, err)
	}
	epoch := binary.BigEndian.Uint32(data)
	return time.Unix(int64(epoch), 0).UTC(), nil
}

// SetDeviceTime writes dateTime (interpreted in its own zone) to the
// inverter's clock as a UTC epoch.
func (c *Client) SetDeviceTime(dateTime time.Time) error {
	epoch := uint32(dateTime.UTC().Unix())
	values := make([]byte, 4)
	binary.BigEndian.PutUint32(values, epoch)
	if _, err := c.client.WriteMultipleRegisters(regDeviceTime, 2, values); err != nil {
		return fmt.Errorf("%w: set device time: %v", mgrerrors.CollaboratorTransient, err)
	}
	return nil
}

// GetDeviceHistoryData returns the inverter's recorded PV and load
// power for a given UTC day at quarter-hour resolution, for the
// stats CSV writer (package backup).
//
// regHistoryDayBase holds 96 slots of 4 registers each (two uint32
// values, pv and load), 384 registers in all — far past the 125
// registers a single Modbus PDU can carry, so the read is chunked the
// way sigenergy.SigenModbusClient never needs to (its widest single
// read is 52 registers).
func (c *Client) GetDeviceHistoryData(day time.Time) (timestamps []string, pv, load []float64, err error) {
	const slots = 96

	data := make([]byte, 0, slots*historyRegsPerSlot*2)
	for _, r := range historyReadChunks(slots) {
		chunk, rerr := c.client.ReadInputRegisters(r.addr, r.quantity)
		if rerr != nil {
			return nil, nil, nil, fmt.Errorf("%w: read device history: %v", mgrerrors.CollaboratorTransient, rerr)
		}
		data = append(data, chunk...)
	}

	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	timestamps = make([]string, slots)
	pv = make([]float64, slots)
	load = make([]float64, slots)

	for i := 0; i < slots; i++ {
		off := i * 8
		pv[i] = float64(int32(binary.BigEndian.Uint32(data[off:off+4]))) / 100.0
		load[i] = float64(int32(binary.BigEndian.Uint32(data[off+4:off+8]))) / 100.0
		timestamps[i] = dayStart.Add(time.Duration(i) * 15 * time.Minute).Format(time.RFC3339)
	}
	return timestamps, pv, load, nil
}
