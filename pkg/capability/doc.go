// Package capability реализует обмен возможностями (capability exchange):
// построение списка feature тегов по локальным настройкам и классу сети,
// извлечение возможностей удаленной стороны из тегов и SDP тела, а также
// генерацию capability SDP с поддерживаемыми кодеками и форматами.
//
// Набор возможностей Capabilities строится заново при каждом обмене и
// после создания не мутируется: новые данные порождают новый набор.
package capability
