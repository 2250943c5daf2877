// Package livecap captures the network traffic of live streaming rooms.
//
// For every room of a category it starts tshark, opens the room in a Chrome
// bound to a persisted profile, selects the best video quality it can find
// and stays on the page for a fixed dwell period. The capture file is named
// after the category and the quality that was picked.
//
// Supported sites:
//   - Douyu, Huya, Bilibili Live and Douyin Live
//   - Room discovery over plain HTTP with a browser fallback
//   - Optional script overrides for room and category rules
//
// Only one browser and one tshark run at a time. A browser is always quit,
// and its profile lock released, before the next one starts.
package livecap
