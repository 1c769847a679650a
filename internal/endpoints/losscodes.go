package endpoints

// LossCode annotates an SSP loss reason
type LossCode struct {
	Code        string
	Description string
	Explanation string
}

var lossCodes = indexLossCodes([]LossCode{
	{"3", "Invalid Bid Response", "Bid object does not contain required field imp.id."},
	{"4", "Invalid Deal ID", "Deal ID was not found in Reach SSP."},
	{"5", "Invalid Auction ID", ""},
	{"7", "Missing Markup", ""},
	{"8", "Missing Creative ID", "Bid_response does not contain required 'adid' field."},
	{"9", "Missing Bid Price", "Bid_response does not contain required 'price' field."},
	{"10", "Missing Minimum Creative Approval Data", "The creative has not been approved by the publisher."},
	{"101", "Bid was Below Deal Floor.", "Deal ID was not found in Reach SSP."},
	{"102", "Lost to Higher Bid", ""},
	{"104", "Buyer Seat Blocked", "Seat was not found in Reach SSP."},
	{"200", "Creative Filtered - General; reason unknown", ""},
	{"203", "Creative Filtered - Size Not Allowed", "The creative resolution does not match with the resolution of the screen in the bid request"},
	{"204", "Creative Filtered - Incorrect Creative Format", "The creative submitted in the bid response is image, but the POP endpoint ext.vast_url is provided, or, vice-versa; mismatch between creative submitted and bid_response format."},
	{"212", "Creative Filtered - Animation Too Long", "The creative submitted is longer than the permissible ad slot duration as defined in the bid request."},
	{"1009", "Absent Response ID", "Bid_response does not contain required field 'id'."},
	{"1012", "Bad ADID Type", "Field bid.adid has incorrect type (string expected)."},
	{"1014", "Bad Bid EXT Type", "Field bid.ext has incorrect type (object expected)."},
	{"1015", "Bad Bid ID Type", "Field bid.id has incorrect type (string expected)."},
	{"1017", "Bad Bid Price Type", "Field bid.price has incorrect type (float expected)."},
	{"1018", "Bad BURL Type", "Field bid.burl has incorrect format (string expected)."},
	{"1022", "Bad Deal ID Type", "Field bid.deal.id has incorrect type (string expected)."},
	{"1023", "Bad imp ID Type", "Field bid.imp.id has incorrect type (string expected)."},
	{"1026", "Bad iurl Format", "Field bid.iurl has incorrect format (URL expected)."},
	{"1027", "Bad iurl Type", "Field bid.iurl has incorrect type (string expected)."},
	{"1030", "Bad nurl Format", "Field bid.nurl has incorrect format (URL expected)."},
	{"1031", "Bad nurl Type", "Field bid.nurl has incorrect type (string expected)."},
	{"1037", "Bad VAST_URL Format", "Field bid.ext.vast_url has incorrect format (URL expected)."},
	{"1038", "Bad VAST_URL Type", "Field bid.ext.vast_url has incorrect type (string expected)."},
	{"1039", "Empty ADID", "ADID field in bid_response is not populated with any value."},
	{"1055", "No Creative Found", "Generic creative failure."},
	{"1056", "No Deal Received", "Bid_response does not contain any deal field in case of open or non-private auction."},
	{"1061", "Private Deal Expected", "Bid_response does not contain deal field in case of private auction."},
	{"1062", "Unexpected ADID", "Unknown Creative ID in the bid_response."},
	{"1066", "Unexpected imp ID", "The bid.imp.id does not match with the imp object of the related bid_request."},
	{"1068", "Unexpected Response ID", "The ID of the bid_response does not match the ID of the related bid_request"},
	{"1070", "Not Accepted Currency", "DSP does not participate in auction because of invalid currency (cur in bid response does not correspond to cur in bid request array or with imp.id)"},
	{"1090", "Fixed Adspottype: Bid Response Mismatch", "If adspottype is Fixed, but crduration_ms / adjimpressions do not match full adslot duration and full audience."},
	{"1091", "Variable Adspottype: Under Minimum Duration", "If adspottype is Variable, but crduration_ms is below the minimum duration defined in the bid request."},
	{"1092", "Adspottype: Missing crduration_ms", "If adspottype is Variable, adjimpressions field is present but crduration_ms is missing in bid response."},
	{"1093", "Adspottype: Missing adjimpressions", "If adspottype is Variable, crduration_ms field is present but adjimpressions is missing in bid response."},
	{"1094", "Adspottype: Creative Duration Failure", "If the crduration_ms does not match with the actual creative duration (declared in adid) within the accepted tolerance limit (50 ms)."},
	{"1095", "Adspottype: Incorrectly Declared Impression Purchase", "If the adjimpressions value does not match the proportion of the crduration_ms to the maxduration of the ad spot."},
	{"1096", "Bad crduation_ms Format and Type", "If crduration_ms is not an integer."},
	{"1097", "Bad adjimpressions Format and Type", "If adjimpressions is not a float."},
	{"1098", "Adjimpressions Protocol Failure", "Adjimpressions field is not allowed by provider protocol. This error primarily fires if event multiplication for impressions is enabled on the DSP's technical provider."},
	{"1201", "Frequency Capped", "This code is triggered when a frequency cap set by the publisher is triggered."},
	{"1202", "Tagged Excluded on Screen", "Publisher restricted the creative related to the adid in the bid_response from winning."},
})

func indexLossCodes(codes []LossCode) map[string]LossCode {
	m := make(map[string]LossCode, len(codes))
	for _, c := range codes {
		m[c.Code] = c
	}
	return m
}

// LookupLossCode describes code. Unknown codes come back with empty text.
func LookupLossCode(code string) LossCode {
	if lc, ok := lossCodes[code]; ok {
		return lc
	}
	return LossCode{Code: code}
}
