package model

// Vendor is the permitting platform backing a jurisdiction's portal.
type Vendor string

const (
	VendorAccela        Vendor = "Accela"
	VendorEnerGov       Vendor = "EnerGov"
	VendorTylerTech     Vendor = "TylerTech"
	VendorETrakit       Vendor = "eTRAKiT"
	VendorCentralSquare Vendor = "CentralSquare"
	VendorOpenGov       Vendor = "OpenGov"
	VendorCitizenServe  Vendor = "CitizenServe"
	VendorCityworks     Vendor = "Cityworks"
	VendorIWorQ         Vendor = "iWorQ"
	VendorMGO           Vendor = "MyGovernmentOnline"
	VendorSmartGov      Vendor = "SmartGov"
	VendorBSA           Vendor = "BS&A"
	VendorCloudPermit   Vendor = "CloudPermit"
	VendorClariti       Vendor = "Clariti"
	VendorMunicipal     Vendor = "municipal"
	VendorPDF           Vendor = "pdf"
	VendorUnknown       Vendor = "unknown"
)

// Known reports whether v names a commercial vendor (not municipal/pdf/unknown).
func (v Vendor) Known() bool {
	switch v {
	case VendorMunicipal, VendorPDF, VendorUnknown, "":
		return false
	}
	return true
}
