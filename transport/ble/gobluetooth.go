package ble

import (
	"context"

	"github.com/bitchat-mesh/bitchat/ids"
	"github.com/muka/go-bluetooth/api"
	"github.com/muka/go-bluetooth/bluez/profile/adapter"
	"github.com/muka/go-bluetooth/bluez/profile/device"
	"github.com/muka/go-bluetooth/bluez/profile/gatt"
)

// GoBluetoothDriver implements Driver over BlueZ via D-Bus
// (github.com/muka/go-bluetooth), the BLE stack peder1981-bitchat uses.
// It is the one file in this package that speaks GATT; everything above
// it works purely in terms of the Driver/Link contracts.
type GoBluetoothDriver struct {
	adapterID string
	adpt      *adapter.Adapter1
}

// NewGoBluetoothDriver opens the named local BLE adapter (e.g. "hci0").
func NewGoBluetoothDriver(adapterID string) (*GoBluetoothDriver, error) {
	a, err := api.GetAdapter(adapterID)
	if err != nil {
		return nil, ids.Wrap(ids.KindTransport, "open ble adapter", err)
	}
	return &GoBluetoothDriver{adapterID: adapterID, adpt: a}, nil
}

// Advertise sets the adapter alias to localID and makes the adapter
// discoverable. It does not register an LE advertisement carrying
// ServiceUUID.
func (d *GoBluetoothDriver) Advertise(ctx context.Context, localID string) error {
	if err := d.adpt.SetAlias(localID); err != nil {
		return ids.Wrap(ids.KindTransport, "set ble alias", err)
	}
	if err := d.adpt.SetDiscoverable(true); err != nil {
		return ids.Wrap(ids.KindTransport, "set ble discoverable", err)
	}
	return nil
}

// StopAdvertise stops advertising.
func (d *GoBluetoothDriver) StopAdvertise() error {
	if err := d.adpt.SetDiscoverable(false); err != nil {
		return ids.Wrap(ids.KindTransport, "clear ble discoverable", err)
	}
	return nil
}

// Scan reports every device BlueZ discovers, with its address and RSSI.
// It does not filter on ServiceUUID and never sets a Discovery's PeerID.
func (d *GoBluetoothDriver) Scan(ctx context.Context) (<-chan Discovery, error) {
	if err := d.adpt.StartDiscovery(); err != nil {
		return nil, ids.Wrap(ids.KindTransport, "start ble discovery", err)
	}

	discovered, cancel, err := api.On("DeviceDiscovered", d.adpt)
	if err != nil {
		return nil, ids.Wrap(ids.KindTransport, "watch ble discoveries", err)
	}

	out := make(chan Discovery, 64)
	go func() {
		defer close(out)
		defer cancel()
		defer d.adpt.StopDiscovery()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-discovered:
				if !ok {
					return
				}
				dev, ok := ev.Data.(*device.Device1)
				if !ok || dev == nil {
					continue
				}
				select {
				case out <- Discovery{Address: dev.Properties.Address, RSSI: int(dev.Properties.RSSI)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Connect opens a GATT connection to addr and binds the write/notify
// characteristic pair under ServiceUUID.
func (d *GoBluetoothDriver) Connect(ctx context.Context, addr string) (Link, error) {
	dev, err := device.NewDevice1(device.Address(d.adapterID, addr))
	if err != nil {
		return nil, ids.Wrap(ids.KindTransport, "resolve ble device", err)
	}
	if err := dev.Connect(); err != nil {
		return nil, ids.Wrap(ids.KindTransport, "connect ble device", err)
	}

	writeChar, err := dev.GetCharByUUID(WriteCharUUID)
	if err != nil {
		return nil, ids.Wrap(ids.KindTransport, "resolve ble write characteristic", err)
	}
	notifyChar, err := dev.GetCharByUUID(NotifyCharUUID)
	if err != nil {
		return nil, ids.Wrap(ids.KindTransport, "resolve ble notify characteristic", err)
	}
	if err := notifyChar.StartNotify(); err != nil {
		return nil, ids.Wrap(ids.KindTransport, "start ble notify", err)
	}

	return newGattLink(dev, writeChar, notifyChar), nil
}

type gattLink struct {
	dev        *device.Device1
	writeChar  *gatt.GattCharacteristic1
	notifyChar *gatt.GattCharacteristic1
	inbound    chan []byte
	cancel     context.CancelFunc
}

func newGattLink(dev *device.Device1, writeChar, notifyChar *gatt.GattCharacteristic1) *gattLink {
	l := &gattLink{dev: dev, writeChar: writeChar, notifyChar: notifyChar, inbound: make(chan []byte, 64)}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	changes, propCancel, err := api.On("PropertiesChanged", notifyChar)
	if err == nil {
		go func() {
			defer propCancel()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-changes:
					if !ok {
						return
					}
					if val, ok := ev.Data.([]byte); ok {
						select {
						case l.inbound <- val:
						case <-ctx.Done():
							return
						}
					}
				}
			}
		}()
	}
	return l
}

func (l *gattLink) Write(ctx context.Context, data []byte) error {
	if err := l.writeChar.WriteValue(data, nil); err != nil {
		return ids.Wrap(ids.KindTransport, "ble gatt write", err)
	}
	return nil
}

func (l *gattLink) Inbound() <-chan []byte { return l.inbound }

func (l *gattLink) Close() error {
	l.cancel()
	close(l.inbound)
	if err := l.dev.Disconnect(); err != nil {
		return ids.Wrap(ids.KindTransport, "ble disconnect", err)
	}
	return nil
}
