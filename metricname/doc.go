// Package metricname derives normalized metric names from query event metadata.
//
// Every function here is pure and safe for concurrent use. Names come in two
// families: scoped names identify one operation ("ActiveRecord/User/find",
// "SQL/orders/select") and rollup names aggregate many of them
// ("ActiveRecord/all", "ActiveRecord/find", "RemoteService/postgresql/db1").
package metricname
