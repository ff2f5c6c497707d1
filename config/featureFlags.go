package config

// RequireBomPicked makes production additionally require every BOM line to be picked.
// Picking is advisory unless this is on.
//
// Set via env:
// - REQUIRE_BOM_PICKED=true
func RequireBomPicked() bool {
	return boolFromEnv("REQUIRE_BOM_PICKED")
}

// AutoStartOrders moves a not_started order to in_progress the first time a step is
// completed or a BOM line is picked.
//
// Set via env:
// - AUTO_START_ORDERS=true
func AutoStartOrders() bool {
	return boolFromEnv("AUTO_START_ORDERS")
}
