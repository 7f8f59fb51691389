// Package ble implements the BLE transport.Transport adapter of
// spec.md §4.8/§6 (TransportType BLE): GATT-service peer discovery,
// connect, and byte exchange, addressed by ids.PeerID rather than raw BLE
// addresses. It is grounded on peder1981-bitchat's go.mod, the one
// from-scratch Go BitChat attempt in the corpus, which depends on
// github.com/muka/go-bluetooth (a BlueZ D-Bus binding) for exactly this
// purpose. This package never touches HCI or raw GATT descriptors
// itself: all of that lives behind the narrow Driver contract below, with
// GoBluetoothDriver as the one concrete implementation that talks to
// go-bluetooth.
package ble

import (
	"context"

	"github.com/bitchat-mesh/bitchat/ids"
)

// ServiceUUID is the GATT service BitChat peers advertise and scan for.
const ServiceUUID = "f47b5e2d-4a9e-4c5a-9b3f-8e1d2c3a4b5c"

// WriteCharUUID and NotifyCharUUID are the single write/notify
// characteristic pair each BitChat peripheral exposes under ServiceUUID.
const (
	WriteCharUUID  = "f47b5e2e-4a9e-4c5a-9b3f-8e1d2c3a4b5c"
	NotifyCharUUID = "f47b5e2f-4a9e-4c5a-9b3f-8e1d2c3a4b5c"
)

// Discovery is one BLE scan result.
type Discovery struct {
	Address   string
	RSSI      int
	PeerID    ids.PeerID
	HasPeerID bool
}

// Link is one connected BLE session.
type Link interface {
	Write(ctx context.Context, data []byte) error
	Inbound() <-chan []byte
	Close() error
}

// Driver is the narrow contract this package needs from an underlying BLE
// stack: advertise, scan, and connect. Everything about HCI/GATT
// mechanics lives behind a concrete Driver.
type Driver interface {
	Advertise(ctx context.Context, localID string) error
	StopAdvertise() error
	Scan(ctx context.Context) (<-chan Discovery, error)
	Connect(ctx context.Context, addr string) (Link, error)
}
