// Package openrtb holds the subset of OpenRTB 2.5 models exchanged with the
// DOOH supply side platform
package openrtb

import "encoding/json"

// BidRequest is the inbound request for one screen opportunity
type BidRequest struct {
	ID     string          `json:"id"`
	Imp    []Imp           `json:"imp"`
	Device *Device         `json:"device,omitempty"`
	TMax   int             `json:"tmax,omitempty"`
	Cur    []string        `json:"cur,omitempty"`
	Ext    json.RawMessage `json:"ext,omitempty"`
}

// Imp is one impression opportunity. Only the first one drives routing.
type Imp struct {
	ID          string  `json:"id"`
	Banner      *Banner `json:"banner,omitempty"`
	Video       *Video  `json:"video,omitempty"`
	PMP         *PMP    `json:"pmp,omitempty"`
	BidFloor    float64 `json:"bidfloor,omitempty"`
	BidFloorCur string  `json:"bidfloorcur,omitempty"`
	Ext         *ImpExt `json:"ext,omitempty"`
}

// ImpExt carries the scheduled play time of the slot
type ImpExt struct {
	DisplayTime int64 `json:"displaytime,omitempty"`
}

// Banner describes a still-image slot
type Banner struct {
	W     int      `json:"w,omitempty"`
	H     int      `json:"h,omitempty"`
	Mimes []string `json:"mimes,omitempty"`
	ID    string   `json:"id,omitempty"`
}

// Video describes a motion slot
type Video struct {
	Mimes       []string `json:"mimes,omitempty"`
	MinDuration int      `json:"minduration,omitempty"`
	MaxDuration int      `json:"maxduration,omitempty"`
	W           int      `json:"w,omitempty"`
	H           int      `json:"h,omitempty"`
	Linearity   int      `json:"linearity,omitempty"`
}

// PMP is the private marketplace wrapper
type PMP struct {
	PrivateAuction int    `json:"private_auction,omitempty"`
	Deals          []Deal `json:"deals,omitempty"`
}

// Deal is a private marketplace agreement
type Deal struct {
	ID          string   `json:"id"`
	BidFloor    float64  `json:"bidfloor,omitempty"`
	BidFloorCur string   `json:"bidfloorcur,omitempty"`
	AT          int      `json:"at,omitempty"`
	WSeat       []string `json:"wseat,omitempty"`
}

// Device is the screen. IFA is the SSP's device identifier.
type Device struct {
	UA  string `json:"ua,omitempty"`
	Geo *Geo   `json:"geo,omitempty"`
	IP  string `json:"ip,omitempty"`
	H   int    `json:"h,omitempty"`
	W   int    `json:"w,omitempty"`
	IFA string `json:"ifa,omitempty"`
}

// Geo is the screen location
type Geo struct {
	Lat     float64 `json:"lat,omitempty"`
	Lon     float64 `json:"lon,omitempty"`
	Country string  `json:"country,omitempty"`
	City    string  `json:"city,omitempty"`
}

// FirstDeal returns the first deal of the impression, if any
func (imp *Imp) FirstDeal() *Deal {
	if imp == nil || imp.PMP == nil || len(imp.PMP.Deals) == 0 {
		return nil
	}
	return &imp.PMP.Deals[0]
}

// DeviceID returns the device identifier or "" when the device is absent
func (r *BidRequest) DeviceID() string {
	if r.Device == nil {
		return ""
	}
	return r.Device.IFA
}
