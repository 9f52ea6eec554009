/*
batt-meas - Periodic battery voltage measurement
Copyright (C) 2025, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package main

import (
	"errors"
	"fmt"
	"sync"

	"github.com/TheCacophonyProject/batt-meas/battmeas"
	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"
)

const (
	dbusName = "org.cacophony.BattMeas"
	dbusPath = "/org/cacophony/BattMeas"

	// The display service consuming battery level updates. It not running
	// yet is the normal state early in boot.
	notifyDest  = "org.cacophony.BatteryDisplay"
	notifyPath  = "/org/cacophony/BatteryDisplay"
	notifyIface = "org.cacophony.BatteryDisplay"
)

type service struct {
	conn *dbus.Conn

	mu   sync.Mutex
	last *battmeas.SampleEvent
}

func startService() (*service, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, errors.New("name already taken")
	}

	s := &service{conn: conn}
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
	return s, nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

// update records the latest reading and announces it on the bus.
func (s *service) update(e battmeas.SampleEvent) {
	s.mu.Lock()
	s.last = &e
	s.mu.Unlock()
	if err := s.conn.Emit(dbusPath, dbusName+".Reading", e.VoltageMv, e.Percent, e.Classification.String()); err != nil {
		log.Errorf("emitting reading signal: %v", err)
	}
}

// Percent returns the battery level from the latest reading.
func (s *service) Percent() (uint8, *dbus.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return 0, makeDbusError(".NoReading", errors.New("no reading yet"))
	}
	return s.last.Percent, nil
}

// Voltage returns the battery voltage in millivolts from the latest reading.
func (s *service) Voltage() (uint16, *dbus.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return 0, makeDbusError(".NoReading", errors.New("no reading yet"))
	}
	return s.last.VoltageMv, nil
}

// Status returns the latest reading as voltage, percent and classification.
func (s *service) Status() (uint16, uint8, string, *dbus.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return 0, 0, "", makeDbusError(".NoReading", errors.New("no reading yet"))
	}
	return s.last.VoltageMv, s.last.Percent, s.last.Classification.String(), nil
}

func makeDbusError(name string, err error) *dbus.Error {
	return &dbus.Error{
		Name: dbusName + name,
		Body: []interface{}{err.Error()},
	}
}

// notifier pushes battery levels to the display service over the bus. The
// display not being up yet is routine, not an error.
type notifier struct {
	conn *dbus.Conn
}

func (n *notifier) Publish(percent uint8) error {
	obj := n.conn.Object(notifyDest, notifyPath)
	call := obj.Call(notifyIface+".Update", 0, percent)
	if call.Err == nil {
		return nil
	}
	if derr, ok := call.Err.(dbus.Error); ok {
		switch derr.Name {
		case "org.freedesktop.DBus.Error.ServiceUnknown",
			"org.freedesktop.DBus.Error.NameHasNoOwner",
			"org.freedesktop.DBus.Error.NoReply":
			return fmt.Errorf("%w: %v", battmeas.ErrNotifierUnavailable, call.Err)
		}
	}
	return call.Err
}
