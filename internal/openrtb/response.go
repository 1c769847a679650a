package openrtb

// BidResponse is returned to the SSP. It always carries a single seat.
type BidResponse struct {
	ID      string    `json:"id"`
	SeatBid []SeatBid `json:"seatbid,omitempty"`
	Cur     string    `json:"cur,omitempty"`
}

// SeatBid holds zero or one bid
type SeatBid struct {
	Bid  []Bid  `json:"bid"`
	Seat string `json:"seat,omitempty"`
}

// Bid is a normalized partner answer. IURL and Ext.VastURL are mutually exclusive.
type Bid struct {
	ID     string  `json:"id"`
	ImpID  string  `json:"impid"`
	Price  float64 `json:"price"`
	NURL   string  `json:"nurl,omitempty"`
	LURL   string  `json:"lurl,omitempty"`
	AdID   string  `json:"adid,omitempty"`
	IURL   string  `json:"iurl,omitempty"`
	DealID string  `json:"dealid,omitempty"`
	Ext    *BidExt `json:"ext,omitempty"`

	// UUID correlates logs for one bid and is never sent upstream
	UUID string `json:"-"`
}

// BidExt carries the out-of-band VAST retrieval URL for video bids
type BidExt struct {
	VastURL string `json:"vastUrl,omitempty"`
}

// IsNoFill reports whether b represents a no-fill
func (b *Bid) IsNoFill() bool {
	return b == nil || b.ID == ""
}
