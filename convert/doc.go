// Package convert provides the conversion service channels and transformers
// use to coerce payloads into an accepted type.
//
// A Registry holds converter functions keyed by source and target type:
//
//	svc := convert.NewDefaultService()
//	_ = convert.Register(svc, func(b bool) (int, error) {
//		if b {
//			return 99, nil
//		}
//		return 0, nil
//	})
//
//	ok := svc.CanConvert(true, convert.TypeOf[int]())
//	v, err := svc.Convert(true, convert.TypeOf[int]())
//
// A value whose type is already assignable to the target converts to itself.
// Registering a pair again replaces the earlier converter.
package convert
