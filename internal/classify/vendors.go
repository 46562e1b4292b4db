// Package classify validates candidate portal URLs and maps them to the
// permitting vendor that hosts them.
package classify

import "github.com/sells-group/portal-resolver/internal/model"

// VendorTableVersion identifies the revision of the vendor tables below.
// Bump it whenever a marker is added, removed, or reordered.
const VendorTableVersion = "2026.10"

// vendorMarker maps a host/path substring to a vendor.
type vendorMarker struct {
	Marker string
	Vendor model.Vendor
}

// vendorMarkers is ordered most-specific first. The first match wins, so a
// Tyler-hosted EnerGov domain must appear before the generic Tyler markers.
var vendorMarkers = []vendorMarker{
	{"energovpub.tylerhost.net", model.VendorEnerGov},
	{"energov", model.VendorEnerGov},
	{"/apps/selfservice", model.VendorEnerGov},
	{"aca-prod.accela.com", model.VendorAccela},
	{"aca.accela.com", model.VendorAccela},
	{"accela.com", model.VendorAccela},
	{"/citizenaccess", model.VendorAccela},
	{"etrakit", model.VendorETrakit},
	{"centralsquare", model.VendorCentralSquare},
	{"viewpointcloud.com", model.VendorOpenGov},
	{"opengov.com", model.VendorOpenGov},
	{"citizenserve.com", model.VendorCitizenServe},
	{"cityworks", model.VendorCityworks},
	{"iworq.net", model.VendorIWorQ},
	{"mygovernmentonline.org", model.VendorMGO},
	{"smartgovcommunity.com", model.VendorSmartGov},
	{"bsaonline.com", model.VendorBSA},
	{"cloudpermit.com", model.VendorCloudPermit},
	{"clariti.app", model.VendorClariti},
	{"claritiapp", model.VendorClariti},
	{"tylerportico.com", model.VendorTylerTech},
	{"tylerhost.net", model.VendorTylerTech},
	{"tylertech.com", model.VendorTylerTech},
}

// contentMarkers maps page-body phrases to vendors for re-detection when the
// portal is served from a municipal domain. Same precedence rules apply.
var contentMarkers = []vendorMarker{
	{"energov", model.VendorEnerGov},
	{"accela citizen access", model.VendorAccela},
	{"accela", model.VendorAccela},
	{"etrakit", model.VendorETrakit},
	{"centralsquare", model.VendorCentralSquare},
	{"opengov", model.VendorOpenGov},
	{"viewpoint cloud", model.VendorOpenGov},
	{"citizenserve", model.VendorCitizenServe},
	{"cityworks", model.VendorCityworks},
	{"iworq", model.VendorIWorQ},
	{"mygovernmentonline", model.VendorMGO},
	{"smartgov", model.VendorSmartGov},
	{"bs&a online", model.VendorBSA},
	{"cloudpermit", model.VendorCloudPermit},
	{"clariti", model.VendorClariti},
	{"tyler technologies", model.VendorTylerTech},
}

// endpointMarkers is the closed vendor set used when turning search
// candidates into crawlable endpoints. PDF links are matched by path suffix.
var endpointMarkers = []vendorMarker{
	{"energov", model.VendorEnerGov},
	{"accela", model.VendorAccela},
	{"etrakit", model.VendorETrakit},
	{"viewpointcloud", model.VendorOpenGov},
	{"opengov", model.VendorOpenGov},
	{"citizenserve", model.VendorCitizenServe},
}

// ContentKeywords are counted by the content probe; a portal page needs at
// least MinContentHits distinct hits.
var ContentKeywords = []string{
	"permit",
	"apply",
	"contractor",
	"self-service",
	"login",
	"plan review",
	"submit",
	"inspection",
	"application",
}

// MinContentHits is the number of distinct ContentKeywords a page must show.
const MinContentHits = 2

// VerifyKeywords are the terms the automated verifier requires in a live
// portal page body.
var VerifyKeywords = []string{
	"permit",
	"apply",
	"contractor",
	"citizen",
	"portal",
}

// oauthAuthorizeMarker appears in identity-provider redirects that were not
// resolved to the underlying portal.
const oauthAuthorizeMarker = "authorize?"

// redirectHosts are identity providers whose redirect_uri points at a vendor
// portal.
var redirectHosts = []string{
	"identity.tylerportico.com",
}
