// Package mmdbus implements modem.Source against the ModemManager daemon on
// the system D-Bus. The dynamic interface/property bags D-Bus hands back are
// validated and converted to typed values here, at the boundary; nothing
// past this package sees a dbus.Variant.
package mmdbus

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/sms-service/internal/modem"
	"github.com/chirino/sms-service/internal/timestamp"
	"github.com/godbus/dbus/v5"
)

const (
	service    = "org.freedesktop.ModemManager1"
	objectPath = "/org/freedesktop/ModemManager1"

	modemInterface     = "org.freedesktop.ModemManager1.Modem"
	messagingInterface = "org.freedesktop.ModemManager1.Modem.Messaging"
	smsInterface       = "org.freedesktop.ModemManager1.Sms"

	getManagedObjects = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
	getAllProperties  = "org.freedesktop.DBus.Properties.GetAll"
)

// propertyBag is the per-interface property map ObjectManager returns for
// each managed object.
type propertyBag = map[string]map[string]dbus.Variant

// Source talks to ModemManager over the system bus.
type Source struct {
	conn *dbus.Conn
}

// New connects to the system D-Bus.
func New() (*Source, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}
	return &Source{conn: conn}, nil
}

// Close releases the bus connection.
func (s *Source) Close() error {
	return s.conn.Close()
}

// ListModems enumerates ModemManager's managed objects and returns one Modem
// per object exposing the Modem interface, sorted by object path.
func (s *Source) ListModems(ctx context.Context) ([]modem.Modem, error) {
	obj := s.conn.Object(service, objectPath)

	var objects map[dbus.ObjectPath]propertyBag
	if err := obj.CallWithContext(ctx, getManagedObjects, 0).Store(&objects); err != nil {
		return nil, fmt.Errorf("failed to get managed objects from ModemManager: %w", err)
	}

	var modems []modem.Modem
	for path, interfaces := range objects {
		props, ok := interfaces[modemInterface]
		if !ok {
			continue
		}
		imei, err := stringProp(props, "EquipmentIdentifier")
		if err != nil {
			return nil, fmt.Errorf("modem %s: %w", path, err)
		}
		modems = append(modems, modem.Modem{Path: string(path), IMEI: imei})
	}

	sort.Slice(modems, func(i, j int) bool { return modems[i].Path < modems[j].Path })
	return modems, nil
}

// ListMessages lists the messages queued on the modem. A message whose
// timestamp cannot be normalized is tagged with the current instant and a
// warning instead of failing the whole listing.
func (s *Source) ListMessages(ctx context.Context, m modem.Modem) ([]modem.Message, error) {
	obj := s.conn.Object(service, dbus.ObjectPath(m.Path))

	var paths []dbus.ObjectPath
	if err := obj.CallWithContext(ctx, messagingInterface+".List", 0).Store(&paths); err != nil {
		return nil, fmt.Errorf("failed to list messages on %s: %w", m.Path, err)
	}

	var messages []modem.Message
	for _, smsPath := range paths {
		smsObj := s.conn.Object(service, smsPath)

		var props map[string]dbus.Variant
		if err := smsObj.CallWithContext(ctx, getAllProperties, 0, smsInterface).Store(&props); err != nil {
			return nil, fmt.Errorf("failed to read message %s: %w", smsPath, err)
		}
		sender, err := stringProp(props, "Number")
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", smsPath, err)
		}
		text, err := stringProp(props, "Text")
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", smsPath, err)
		}
		timestampStr, err := stringProp(props, "Timestamp")
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", smsPath, err)
		}

		ts, err := timestamp.Parse(timestampStr)
		if err != nil {
			log.Warn("Failed to parse message timestamp, using current time",
				"timestamp", timestampStr, "message", smsPath, "err", err)
			ts = time.Now().UTC()
		}

		messages = append(messages, modem.Message{
			Sender:    sender,
			Text:      text,
			Timestamp: ts,
			Path:      string(smsPath),
		})
	}

	return messages, nil
}

// DeleteMessage removes one message from the modem's internal storage.
func (s *Source) DeleteMessage(ctx context.Context, m modem.Modem, messagePath string) error {
	obj := s.conn.Object(service, dbus.ObjectPath(m.Path))
	call := obj.CallWithContext(ctx, messagingInterface+".Delete", 0, dbus.ObjectPath(messagePath))
	if call.Err != nil {
		return fmt.Errorf("failed to delete message %s from %s: %w", messagePath, m.Path, call.Err)
	}
	return nil
}

func stringProp(props map[string]dbus.Variant, name string) (string, error) {
	v, ok := props[name]
	if !ok {
		return "", fmt.Errorf("missing property %s", name)
	}
	str, ok := v.Value().(string)
	if !ok {
		return "", fmt.Errorf("property %s is %T, not a string", name, v.Value())
	}
	return str, nil
}
